// Package grpc exposes the standard gRPC health and reflection services so
// orchestrators can health-check the chat service.
package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"chatsync/internal/logging"
	"chatsync/internal/observability"
)

// ServiceName is the health-checked service name next to the overall "".
const ServiceName = "chatsync.Messaging"

// CheckFunc checks a dependency; a non-nil error marks the service NOT_SERVING.
type CheckFunc func(ctx context.Context) error

type Server struct {
	addr     string
	srv      *ggrpc.Server
	health   *health.Server
	check    CheckFunc
	interval time.Duration
	log      zerolog.Logger
}

// NewServer builds the server. check may be nil.
func NewServer(addr string, check CheckFunc, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := ggrpc.NewServer(
		ggrpc.StatsHandler(otelgrpc.NewServerHandler()),
		ggrpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &Server{
		addr:     addr,
		srv:      srv,
		health:   hs,
		check:    check,
		interval: interval,
		log:      logging.Component("grpc"),
	}
}

func (s *Server) String() string { return "grpc-health" }

// Health exposes the underlying health server.
func (s *Server) Health() *health.Server { return s.health }

// Serve listens until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.refresh(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(lis) }()
	s.log.Info().Str("addr", s.addr).Msg("grpc server listening")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.srv.GracefulStop()
			return ctx.Err()
		case err := <-errCh:
			if errors.Is(err, ggrpc.ErrServerStopped) {
				return nil
			}
			return err
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		checkCtx, cancel := context.WithTimeout(ctx, s.interval/2)
		err := s.check(checkCtx)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
