package grpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const serviceTokenKey = "x-service-token"

var ErrMissingServiceToken = errors.New("grpc: service auth token required")

// serviceToken is the shared secret between the progress query service and its
// operator clients. The server checks it on every call and the client attaches it.
type serviceToken string

func (t serviceToken) verify(ctx context.Context) error {
	var presented string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(serviceTokenKey); len(values) > 0 {
			presented = strings.TrimSpace(values[0])
		}
	}
	if presented == "" {
		return status.Error(codes.Unauthenticated, "missing service token")
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(t)) != 1 {
		return status.Error(codes.PermissionDenied, "invalid service token")
	}
	return nil
}

func (t serviceToken) serverInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if err := t.verify(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (t serviceToken) clientInterceptor(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if t != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, serviceTokenKey, string(t))
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewQueryServer returns a gRPC server that only admits callers presenting token,
// with the progress query service registered on it.
func NewQueryServer(token string, query ProgressQueryServiceServer, opts ...grpc.ServerOption) (*grpc.Server, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingServiceToken
	}
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(serviceToken(token).serverInterceptor)}, opts...)
	server := grpc.NewServer(opts...)
	RegisterProgressQueryServiceServer(server, query)
	return server, nil
}
