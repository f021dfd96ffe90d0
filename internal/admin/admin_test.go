package admin

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/replica-scaler/internal/registry"
	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/internal/replica/local"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

func startAdmin(t *testing.T) (*Client, *registry.Manager) {
	t.Helper()

	pool := local.NewPool(local.Config{Nodes: 2, NodeCPU: 8, NodeMemory: 1 << 30})
	m := registry.New(map[types.BackendKind]replica.Factory{types.BackendLocal: pool}, nil,
		registry.Options{ShutdownGrace: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	lis := bufconn.Listen(1 << 20)
	go func() { _ = NewServer(m).Serve(ctx, lis) }()

	client, err := Dial("passthrough:///admin",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		m.Shutdown(context.Background())
		cancel()
		pool.Stop(context.Background())
	})
	return client, m
}

func web(replicas int) types.JobInstanceDescriptor {
	return types.JobInstanceDescriptor{
		Name:            "web",
		ReplicationMode: types.ReplicationManual,
		TargetReplicas:  replicas,
		Resources:       types.ResourceRequest{CPU: 1},
		Work:            "ticker",
		Parameters:      map[string]string{"interval": "5ms"},
	}
}

func TestStatusAndScale(t *testing.T) {
	client, m := startAdmin(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, []types.JobInstanceDescriptor{web(1)}, nil))

	require.NoError(t, client.Scale(ctx, "web", 3))

	jobs, err := client.Status(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "web", jobs[0].Job)
	assert.Equal(t, 3, jobs[0].Live)
	assert.Equal(t, []string{"web-1", "web-2", "web-3"}, jobs[0].Replicas)
	assert.Equal(t, types.StateStarted, jobs[0].State)
}

func TestPauseResume(t *testing.T) {
	client, m := startAdmin(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, []types.JobInstanceDescriptor{web(2)}, nil))

	require.NoError(t, client.Pause(ctx, "web"))
	jobs, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatePaused, jobs[0].State)

	require.NoError(t, client.Resume(ctx, "web"))
	jobs, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StateStarted, jobs[0].State)
}

func TestShutdownRemovesJob(t *testing.T) {
	client, m := startAdmin(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, []types.JobInstanceDescriptor{web(2)}, nil))

	require.NoError(t, client.Shutdown(ctx, "web"))
	jobs, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestErrorCodes(t *testing.T) {
	client, m := startAdmin(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, []types.JobInstanceDescriptor{web(1)}, nil))

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"unknown job", func() error { return client.Scale(ctx, "missing", 1) }, codes.NotFound},
		{"negative replicas", func() error { return client.Scale(ctx, "web", -1) }, codes.InvalidArgument},
		{"unknown instruction", func() error { return client.Manage(ctx, "web", "restart") }, codes.InvalidArgument},
		{"shutdown unknown job", func() error { return client.Shutdown(ctx, "missing") }, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(tt.call()))
		})
	}
}
