package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hospital.org/internal/obs"
)

// HealthMonitor publishes store readiness through the standard gRPC health
// service, for both the overall server ("") and serviceName.
type HealthMonitor struct {
	srv       *health.Server
	readiness ReadinessChecker
	interval  time.Duration
	log       zerolog.Logger
}

func NewHealthMonitor(r ReadinessChecker, interval time.Duration, log zerolog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if r == nil {
		r = ReadyProbe{}
	}
	return &HealthMonitor{srv: health.NewServer(), readiness: r, interval: interval, log: log}
}

// Register attaches the health service to a gRPC server.
func (m *HealthMonitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, m.srv)
}

// Probe runs one readiness check and updates the serving status.
func (m *HealthMonitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	err := m.readiness.Check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		m.log.Warn().Err(err).Msg("readiness check failed")
	}
	m.srv.SetServingStatus("", status)
	m.srv.SetServingStatus(serviceName, status)
	obs.SetReady(err == nil)
	return err == nil
}

// Run probes until ctx ends, then marks the service as shutting down.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.srv.Shutdown()
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
