package api

import (
	"context"

	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"
)

// RPCRecorder counts finished calls by method and status code.
// *metrics.Metrics implements it.
type RPCRecorder interface {
	RPC(method, code string)
}

// UnaryMetrics records every unary call.
func UnaryMetrics(r RPCRecorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		r.RPC(info.FullMethod, grpcstatus.Code(err).String())
		return resp, err
	}
}

// StreamMetrics records every stream when it ends.
func StreamMetrics(r RPCRecorder) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		r.RPC(info.FullMethod, grpcstatus.Code(err).String())
		return err
	}
}
