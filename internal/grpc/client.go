package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a progress query service, attaching token to every call.
func Dial(ctx context.Context, addr, token string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(serviceToken(token).clientInterceptor),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) ValidateSession(ctx context.Context, req *ValidateSessionRequest) (*ValidateSessionResponse, error) {
	out := new(ValidateSessionResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/ValidateSession", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetClassReport(ctx context.Context, req *GetClassReportRequest) (*GetClassReportResponse, error) {
	out := new(GetClassReportResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/GetClassReport", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
