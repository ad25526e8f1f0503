// Package grpc exposes the service's gRPC surface: the standard health
// protocol driven by database reachability, plus server reflection.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service name besides the server-wide "".
const ServiceName = "orders.OrderService"

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthReporter struct {
	health   *health.Server
	db       Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	serving  bool
}

// NewServer builds a gRPC server with health and reflection registered. The
// returned reporter must be Run for the status to track the database.
func NewServer(db Pinger, interval time.Duration, logger *slog.Logger) (*grpc.Server, *HealthReporter) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, &HealthReporter{
		health:   hs,
		db:       db,
		interval: interval,
		timeout:  2 * time.Second,
		logger:   logger.With("component", "grpc_health"),
	}
}

// Run checks the database immediately and then on every tick until ctx is
// done, after which every service reports NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.check(ctx)
	for {
		select {
		case <-ticker.C:
			h.check(ctx)
		case <-ctx.Done():
			h.health.Shutdown()
			return
		}
	}
}

func (h *HealthReporter) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	err := h.db.Ping(pingCtx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	serving := err == nil
	if serving != h.serving {
		if serving {
			h.logger.InfoContext(ctx, "database reachable, serving")
		} else {
			h.logger.WarnContext(ctx, "database unreachable, not serving", "error", err)
		}
		h.serving = serving
	}

	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
