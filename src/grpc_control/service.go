package grpc_control

import (
	"context"
	"net"
	"time"

	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const syncInterval = 2 * time.Second

// StatusSource is what the health service reads on every sync.
type StatusSource interface {
	CollectorStatuses() []models.MCollectorStatus
	Running() bool
}

// HealthService publishes the standard gRPC health protocol. Each collector
// category is its own service name; "" tracks the coordinator itself.
type HealthService struct {
	Logger *logger.Logger
	source StatusSource
	health *health.Server
}

// NewHealthService creates a new instance of HealthService
func NewHealthService(source StatusSource, log *logger.Logger) *HealthService {
	if log == nil {
		log = logger.NewDiscardLogger("grpc")
	}
	return &HealthService{
		Logger: log,
		source: source,
		health: health.NewServer(),
	}
}

// -----------------------------------------------------------------------------

// Sync copies collector readiness into the health server.
func (s *HealthService) Sync() {
	for _, st := range s.source.CollectorStatuses() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if st.State == "running" {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(st.Category, status)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if s.source.Running() {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", overall)
}

// -----------------------------------------------------------------------------

// Serve listens on addr until ctx is cancelled.
func (s *HealthService) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.Logger.Info("gRPC health service listening on %s", lis.Addr())
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *HealthService) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.Sync()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				// watchers see NOT_SERVING before the server goes away
				s.health.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				s.Sync()
			}
		}
	}()

	err := srv.Serve(lis)
	cancel()
	<-done
	if ctx.Err() != nil {
		return nil
	}
	return err
}
