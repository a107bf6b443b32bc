package api

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type uidKey struct{}

// UserID returns the authenticated caller, if any.
func UserID(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(uidKey{}).(string)
	return uid, ok && uid != ""
}

func public(method string) bool {
	return strings.HasPrefix(method, "/"+AccountsService+"/")
}

func authenticate(ctx context.Context, v TokenVerifier) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return nil, grpcstatus.Error(codes.Unauthenticated, "missing authorization")
	}
	uid, err := v.Verify(vals[0])
	if err != nil {
		return nil, grpcstatus.Error(codes.Unauthenticated, err.Error())
	}
	return context.WithValue(ctx, uidKey{}, uid), nil
}

// UnaryAuth rejects calls without a valid token, except account calls.
func UnaryAuth(v TokenVerifier, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if public(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, v)
		if err != nil {
			logger.Debug("rejected call", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, err
		}
		return handler(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// StreamAuth is UnaryAuth for streams.
func StreamAuth(v TokenVerifier, logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), v)
		if err != nil {
			logger.Debug("rejected stream", zap.String("method", info.FullMethod), zap.Error(err))
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}
