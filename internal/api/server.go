package api

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Services groups everything the daemon serves.
type Services struct {
	Documents *DocumentService
	Accounts  *AccountService
	Presence  *PresenceLeaseService
}

// NewGRPCServer registers the services behind token authentication.
func NewGRPCServer(svcs Services, verifier TokenVerifier, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryAuth(verifier, logger)),
		grpc.ChainStreamInterceptor(StreamAuth(verifier, logger)),
	)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&DocumentStoreDesc, svcs.Documents)
	srv.RegisterService(&AccountsDesc, svcs.Accounts)
	if svcs.Presence != nil {
		srv.RegisterService(&PresenceDesc, svcs.Presence)
	}
	return srv
}
