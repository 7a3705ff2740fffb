package grpc_control

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"telemetry-backbone/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	running  atomic.Bool
	statuses []models.MCollectorStatus
}

func (f *fakeSource) CollectorStatuses() []models.MCollectorStatus { return f.statuses }
func (f *fakeSource) Running() bool                                { return f.running.Load() }

func TestHealthReflectsCollectors(t *testing.T) {
	src := &fakeSource{statuses: []models.MCollectorStatus{
		{Name: "system", Category: "system", State: "running"},
		{Name: "execution", Category: "execution", State: "stopped"},
	}}
	src.running.Store(true)

	svc := NewHealthService(src, nil)
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(t.Context())
	served := make(chan error, 1)
	go func() { served <- svc.ServeListener(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		reqCtx, reqCancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer reqCancel()
		resp, err := client.Check(reqCtx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("system"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("execution"))

	src.running.Store(false)
	svc.Sync()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	conn.Close()
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("health service did not stop")
	}
}

func TestSyncWithoutServer(t *testing.T) {
	src := &fakeSource{statuses: []models.MCollectorStatus{{Category: "strategy", State: "starting"}}}
	svc := NewHealthService(src, nil)
	svc.Sync()

	resp, err := svc.health.Check(t.Context(), &healthpb.HealthCheckRequest{Service: "strategy"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
