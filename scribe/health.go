package scribe

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// healthServiceName is the service key reported alongside the overall status.
const healthServiceName = "medscribe.Transcription"

// healthProbe exposes the engine state over the standard gRPC health protocol
// for orchestrators that probe gRPC rather than HTTP.
type healthProbe struct {
	addr   string
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
	lis    net.Listener
}

func newHealthProbe(addr string, logger *slog.Logger) *healthProbe {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthgrpc.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(healthServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
	return &healthProbe{
		addr:   addr,
		log:    logger.With("component", "scribe.health"),
		server: gs,
		health: hs,
	}
}

func (p *healthProbe) start(loaded bool) error {
	lis, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to bind gRPC health listener: %w", err)
	}
	p.lis = lis
	p.setLoaded(loaded)
	p.log.Info("grpc health probe listening", "addr", lis.Addr().String(), "serving", loaded)
	return nil
}

func (p *healthProbe) serve() error {
	if err := p.server.Serve(p.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC health server terminated: %w", err)
	}
	return nil
}

func (p *healthProbe) setLoaded(loaded bool) {
	status := healthgrpc.HealthCheckResponse_NOT_SERVING
	if loaded {
		status = healthgrpc.HealthCheckResponse_SERVING
	}
	p.health.SetServingStatus("", status)
	p.health.SetServingStatus(healthServiceName, status)
}

func (p *healthProbe) stop() {
	p.health.SetServingStatus(healthServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
	p.health.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		p.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		p.log.Warn("graceful stop timed out, forcing stop")
		p.server.Stop()
	}
}
