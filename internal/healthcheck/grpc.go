// Package healthcheck serves the standard gRPC health protocol for the
// study server, so orchestrators can check it without speaking HTTP.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Service names reported by the health server. The empty name is the
// overall server status.
const (
	ServiceDatabase   = "recall.database"
	ServiceGeneration = "recall.generation"
)

const (
	defaultCheckInterval = 30 * time.Second
	pingTimeout          = 2 * time.Second
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	DB                Pinger
	GenerationEnabled bool
	// CheckInterval is how often the database is re-checked.
	CheckInterval time.Duration
	Logger        *slog.Logger
}

// Server is a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	db       Pinger
	genOK    bool
	interval time.Duration
	logger   *slog.Logger
}

// New creates a health server. Statuses start as NOT_SERVING until the
// first check runs.
func New(cfg Config) (*Server, error) {
	if cfg.DB == nil {
		return nil, errors.New("healthcheck: database pinger required")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	gs := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	for _, svc := range []string{"", ServiceDatabase, ServiceGeneration} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	return &Server{
		grpc:     gs,
		health:   hs,
		db:       cfg.DB,
		genOK:    cfg.GenerationEnabled,
		interval: cfg.CheckInterval,
		logger:   cfg.Logger,
	}, nil
}

// Check refreshes every status once.
func (s *Server) Check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	dbStatus := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(pingCtx); err != nil {
		s.logger.Warn("Health check: database unreachable", "error", err)
		dbStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}
	genStatus := healthpb.HealthCheckResponse_NOT_SERVING
	if s.genOK {
		genStatus = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus(ServiceDatabase, dbStatus)
	s.health.SetServingStatus(ServiceGeneration, genStatus)
	// The server is usable as long as the database is; generation failures
	// surface per request.
	s.health.SetServingStatus("", dbStatus)
}

// Serve checks immediately, then serves on lis and re-checks on an interval
// until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Check(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	err := s.grpc.Serve(lis)
	cancel()
	<-done
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}
