package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/progress"
)

const serviceName = "reactionmap.progress.v1.ProgressQueryService"

type ValidateSessionRequest struct {
	SessionToken string `json:"session_token"`
}

type ValidateSessionResponse struct {
	StudentID   string    `json:"student_id"`
	ClassCode   string    `json:"class_code"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type GetClassReportRequest struct {
	ClassCode string `json:"class_code"`
}

type GetClassReportResponse struct {
	Report api.Report `json:"report"`
}

type ProgressQueryServiceServer interface {
	ValidateSession(context.Context, *ValidateSessionRequest) (*ValidateSessionResponse, error)
	GetClassReport(context.Context, *GetClassReportRequest) (*GetClassReportResponse, error)
}

// ProgressQueryServer answers internal lookups for sibling services and the admin CLI.
type ProgressQueryServer struct {
	svc *progress.Service
}

func NewProgressQueryServer(svc *progress.Service) *ProgressQueryServer {
	return &ProgressQueryServer{svc: svc}
}

func (s *ProgressQueryServer) ValidateSession(ctx context.Context, req *ValidateSessionRequest) (*ValidateSessionResponse, error) {
	if req.SessionToken == "" {
		return nil, status.Error(codes.InvalidArgument, "session_token required")
	}
	session, student, err := s.svc.Profile(ctx, req.SessionToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ValidateSessionResponse{
		StudentID:   student.ID,
		ClassCode:   student.ClassCode,
		DisplayName: student.DisplayName,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *ProgressQueryServer) GetClassReport(ctx context.Context, req *GetClassReportRequest) (*GetClassReportResponse, error) {
	if req.ClassCode == "" {
		return nil, status.Error(codes.InvalidArgument, "class_code required")
	}
	report, err := s.svc.Report(ctx, req.ClassCode)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetClassReportResponse{Report: report}, nil
}

func toStatus(err error) error {
	var perr *progress.Error
	if !errors.As(err, &perr) {
		return status.Error(codes.Internal, "internal error")
	}
	switch perr.Kind {
	case progress.KindBadRequest:
		return status.Error(codes.InvalidArgument, perr.Message)
	case progress.KindUnauthorized:
		return status.Error(codes.Unauthenticated, perr.Message)
	case progress.KindForbidden:
		return status.Error(codes.PermissionDenied, perr.Message)
	case progress.KindNotFound:
		return status.Error(codes.NotFound, perr.Message)
	case progress.KindTooManyRequests:
		return status.Error(codes.ResourceExhausted, perr.Message)
	default:
		return status.Error(codes.Internal, perr.Message)
	}
}

func RegisterProgressQueryServiceServer(s grpc.ServiceRegistrar, srv ProgressQueryServiceServer) {
	s.RegisterService(&progressQueryServiceDesc, srv)
}

var progressQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProgressQueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateSession", Handler: validateSessionHandler},
		{MethodName: "GetClassReport", Handler: getClassReportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "progress/v1/progress.json",
}

func validateSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ValidateSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProgressQueryServiceServer).ValidateSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ValidateSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProgressQueryServiceServer).ValidateSession(ctx, req.(*ValidateSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getClassReportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetClassReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProgressQueryServiceServer).GetClassReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetClassReport"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProgressQueryServiceServer).GetClassReport(ctx, req.(*GetClassReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}
