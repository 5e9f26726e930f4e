package scribe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

func checkHealth(t *testing.T, addr, service string) healthgrpc.HealthCheckResponse_ServingStatus {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthgrpc.NewHealthClient(conn).Check(ctx, &healthgrpc.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthProbeReflectsEngine(t *testing.T) {
	for _, loaded := range []bool{true, false} {
		p := newHealthProbe("127.0.0.1:0", quietLogger())
		require.NoError(t, p.start(loaded))
		go p.serve()

		want := healthgrpc.HealthCheckResponse_NOT_SERVING
		if loaded {
			want = healthgrpc.HealthCheckResponse_SERVING
		}
		addr := p.lis.Addr().String()
		assert.Equal(t, want, checkHealth(t, addr, ""))
		assert.Equal(t, want, checkHealth(t, addr, healthServiceName))
		p.stop()
	}
}
