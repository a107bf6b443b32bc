package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
)

// Server manages the gRPC server lifecycle: always a Unix domain socket,
// plus a TCP listener when daemon.listen is set.
type Server struct {
	grpcServer *grpc.Server
	listeners  []net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates the gRPC server and binds its listeners.
func NewServer(
	p Params,
	cfg *config.Config,
	logger *zap.Logger,
	svcs api.Services,
	accounts *auth.Service,
	m *metrics.Metrics,
) (*Server, error) {
	socketPath := p.socketPath()

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	unixLis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = unixLis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	listeners := []net.Listener{unixLis}

	if cfg.Daemon.Listen != "" {
		tcpLis, err := net.Listen("tcp", cfg.Daemon.Listen)
		if err != nil {
			_ = unixLis.Close()
			return nil, fmt.Errorf("listen %s: %w", cfg.Daemon.Listen, err)
		}
		listeners = append(listeners, tcpLis)
	}

	srv := api.NewGRPCServer(svcs, accounts, logger,
		grpc.ChainUnaryInterceptor(api.UnaryMetrics(m)),
		grpc.ChainStreamInterceptor(api.StreamMetrics(m)),
	)

	return &Server{
		grpcServer: srv,
		listeners:  listeners,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	out := make([]net.Addr, len(s.listeners))
	for i, l := range s.listeners {
		out[i] = l.Addr()
	}
	return out
}

// Start begins serving gRPC requests on every listener. Blocks until stopped.
func (s *Server) Start() error {
	errs := make(chan error, len(s.listeners))
	for _, l := range s.listeners[1:] {
		go func() {
			s.logger.Info("gRPC server starting", zap.String("addr", l.Addr().String()))
			errs <- s.grpcServer.Serve(l)
		}()
	}
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	if err := s.grpcServer.Serve(s.listeners[0]); err != nil {
		return err
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Open Subscribe streams never finish on their own.
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}
