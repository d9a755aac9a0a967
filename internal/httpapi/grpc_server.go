package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"lexintake.org/internal/obs"
)

// readinessChecker reports whether the service can take traffic.
type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth serves grpc.health.v1 with a status that tracks readiness.
type GRPCHealth struct {
	server    *health.Server
	readiness readinessChecker
	log       *logrus.Entry
}

// NewGRPCHealth starts in NOT_SERVING until the first Refresh.
func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	h := &GRPCHealth{
		server:    health.NewServer(),
		readiness: r,
		log:       obs.Component("grpc_health"),
	}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.server.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *GRPCHealth) Register(srv grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Refresh runs the readiness check once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.readiness.Check(ctx); err != nil {
		h.log.WithError(err).Warn("readiness check failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
	ok := status == healthpb.HealthCheckResponse_SERVING
	obs.SetReady(ok)
	return ok
}

// Run refreshes every interval until ctx ends, then marks every service
// NOT_SERVING.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		h.Refresh(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
