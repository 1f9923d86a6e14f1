// Package grpc exposes the standard gRPC health service for the wrap
// daemon, so orchestrators and load balancers can probe it over gRPC.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the orchestrator
const ServiceName = "wrap.Orchestrator"

// HealthChecker reports whether a component can take work
type HealthChecker interface {
	IsHealthy() bool
}

// Server represents the gRPC API server
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	checker  HealthChecker
	interval time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port   int
	Logger *zap.Logger

	// Checker, when set, drives the orchestrator serving status every
	// CheckInterval
	Checker       HealthChecker
	CheckInterval time.Duration
}

// NewServer creates a new gRPC server listening on cfg.Port. Port 0 picks
// a free port, see Addr.
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		checker:  cfg.Checker,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}, nil
}

// Addr returns the listening address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.Addr()))

	if s.checker != nil {
		go s.watch()
	}

	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// watch mirrors the checker into the orchestrator serving status
func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sync()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sync()
		}
	}
}

func (s *Server) sync() {
	status := healthpb.HealthCheckResponse_SERVING
	if !s.checker.IsHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown reports NOT_SERVING and stops the server, forcing it if ctx
// expires first
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.stopOnce.Do(func() { close(s.stop) })
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
