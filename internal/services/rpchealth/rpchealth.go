// Package rpchealth exposes the broker connection state through the
// standard gRPC health service.
package rpchealth

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Andria35/SmartRoom/internal/telemetry"
	"github.com/Andria35/SmartRoom/pkg/broker"
)

// Server reports SERVING for service while the broker session is
// Connected, NOT_SERVING otherwise.
type Server struct {
	service string
	grpc    *grpc.Server
	health  *health.Server
	log     *slog.Logger
}

func New(service string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service: service,
		grpc:    grpc.NewServer(),
		health:  health.NewServer(),
		log:     logger.With("component", "grpc-health"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Set(broker.State{})
	return s
}

// Set maps a connection state to a serving status.
func (s *Server) Set(st broker.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Connected() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, status)
	s.health.SetServingStatus("", status)
}

// Track follows state events on bus until ctx is done.
func (s *Server) Track(ctx context.Context, bus *telemetry.Bus) {
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Kind == telemetry.KindState {
				s.Set(e.State)
			}
		}
	}
}

// Serve blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC health listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
