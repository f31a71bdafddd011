// Package api serves the backtest engine over gRPC.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"walkfwd/internal/config"
)

// Server hosts the walkfwd.v1.Backtest service and the standard gRPC
// health service.
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// NewServer creates a Server listening on cfg.Server.Host:GRPCPort.
func NewServer(cfg *config.Config, svc *BacktestService, opts ...grpc.ServerOption) *Server {
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&backtestServiceDesc, &grpcHandler{svc: svc})

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		addr:   net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)),
		grpc:   gs,
		health: hs,
		log:    slog.Default().With("component", "grpc-server"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis. Cancelling ctx stops the server gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(backtestServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-done:
		}
	}()

	s.log.Info("grpc server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Shutdown marks the server as not serving and waits for in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.log.Info("grpc server stopped")
}
