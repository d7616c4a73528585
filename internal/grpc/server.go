// Package grpc runs the internal ops listener: the standard health service
// with metrics and tracing on every call.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"space-chat/internal/observability"
)

// ServiceName is the health entry reported alongside the overall status.
const ServiceName = "space-chat"

const pingTimeout = 2 * time.Second

// Pinger reports backend reachability. *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server wraps a grpc.Server whose health follows the database ping.
type Server struct {
	srv      *ggrpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	logger   zerolog.Logger
}

// NewServer builds the server. A nil pinger is always serving.
func NewServer(pinger Pinger, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := ggrpc.NewServer(
		ggrpc.StatsHandler(otelgrpc.NewServerHandler()),
		ggrpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		srv:      srv,
		health:   hs,
		pinger:   pinger,
		interval: interval,
		logger:   log.With().Str("module", "grpc").Logger(),
	}
}

// Check pings the backend once and publishes the result.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.pinger.PingContext(pctx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("health ping failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve blocks until lis fails or ctx ends, refreshing health every interval.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Check(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
	return s.srv.Serve(lis)
}

// Stop marks every service as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
