package local

// ============================================================================
// 本地副本池測試
// 功能: 驗證放置策略、副本生命週期、暫停與終止語義
// ============================================================================

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

func newTestPool(nodes int, works map[string]WorkFunc) *Pool {
	return NewPool(Config{Nodes: nodes, NodeCPU: 2, NodeMemory: 1 << 30, Works: works})
}

func descriptor(name, work string) types.JobInstanceDescriptor {
	return types.JobInstanceDescriptor{
		Name:            name,
		ReplicationMode: types.ReplicationManual,
		Resources:       types.ResourceRequest{CPU: 1, MemoryBytes: 1 << 20},
		Work:            work,
	}
}

func waitDone(t *testing.T, s replica.Signal) error {
	t.Helper()
	select {
	case <-s.Done():
		return s.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("replica did not finish in time")
		return nil
	}
}

// ============================================================================
// Placement Tests
// ============================================================================

func TestPackPlacementFillsFirstNode(t *testing.T) {
	pool := newTestPool(2, nil)
	ctx := context.Background()

	r1, err := pool.CreateReplica(ctx, descriptor("a", "sleep"), 1)
	require.NoError(t, err)
	r2, err := pool.CreateReplica(ctx, descriptor("a", "sleep"), 2)
	require.NoError(t, err)

	assert.Equal(t, "node-0", r1.Node())
	assert.Equal(t, "node-0", r2.Node())
	assert.Equal(t, "a-2", r2.Label())
}

func TestSpreadPlacementUsesLeastLoadedNode(t *testing.T) {
	pool := newTestPool(2, nil)
	ctx := context.Background()
	desc := descriptor("a", "sleep")
	desc.PlacementStrategy = types.PlacementSpread

	r1, err := pool.CreateReplica(ctx, desc, 1)
	require.NoError(t, err)
	r2, err := pool.CreateReplica(ctx, desc, 2)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Node(), r2.Node())
}

func TestStrictSpreadRejectsSecondReplicaPerNode(t *testing.T) {
	pool := newTestPool(1, nil)
	ctx := context.Background()
	desc := descriptor("a", "sleep")
	desc.PlacementStrategy = types.PlacementStrictSpread

	_, err := pool.CreateReplica(ctx, desc, 1)
	require.NoError(t, err)

	_, err = pool.CreateReplica(ctx, desc, 2)
	var pe *replica.PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "a-2", pe.Label)
}

func TestInsufficientCapacity(t *testing.T) {
	pool := newTestPool(1, nil)
	desc := descriptor("big", "sleep")
	desc.Resources.CPU = 8

	_, err := pool.Create(context.Background(), desc, 1, replica.NoopSink{})
	var pe *replica.PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "no node satisfies")
}

func TestUnknownWork(t *testing.T) {
	pool := newTestPool(1, nil)
	_, err := pool.Create(context.Background(), descriptor("a", "missing"), 1, replica.NoopSink{})
	assert.ErrorIs(t, err, ErrUnknownWork)
}

func TestCreateAfterStop(t *testing.T) {
	pool := newTestPool(1, nil)
	pool.Stop(context.Background())

	_, err := pool.Create(context.Background(), descriptor("a", "sleep"), 1, replica.NoopSink{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestRunReleasesCapacity(t *testing.T) {
	pool := newTestPool(1, nil)
	desc := descriptor("a", "sleep")
	desc.Parameters = map[string]string{"duration": "10ms"}

	r, err := pool.CreateReplica(context.Background(), desc, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.ReplicaCount())

	require.NoError(t, waitDone(t, r.Run(context.Background())))
	assert.Eventually(t, func() bool { return pool.ReplicaCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, pool.Stats()[0].UsedCPU)
}

func TestRunIsIdempotent(t *testing.T) {
	pool := newTestPool(1, nil)
	r, err := pool.CreateReplica(context.Background(), descriptor("a", "sleep"), 1)
	require.NoError(t, err)

	s1 := r.Run(context.Background())
	s2 := r.Run(context.Background())
	assert.Same(t, s1, s2)
	require.NoError(t, waitDone(t, s1))
}

func TestConfiguredFailure(t *testing.T) {
	pool := newTestPool(1, nil)
	desc := descriptor("a", "sleep")
	desc.Parameters = map[string]string{"duration": "1ms", "fail": "true"}

	r, err := pool.CreateReplica(context.Background(), desc, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, waitDone(t, r.Run(context.Background())), ErrConfiguredFailure)
}

func TestPanicBecomesError(t *testing.T) {
	works := map[string]WorkFunc{
		"boom": func(ctx context.Context, rt *Runtime) error { panic("boom") },
	}
	pool := newTestPool(1, works)
	r, err := pool.CreateReplica(context.Background(), descriptor("a", "boom"), 1)
	require.NoError(t, err)

	err = waitDone(t, r.Run(context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestGracefulShutdownIsCleanExit(t *testing.T) {
	pool := newTestPool(1, nil)
	desc := descriptor("svc", "ticker")
	desc.Parameters = map[string]string{"interval": "5ms"}

	r, err := pool.CreateReplica(context.Background(), desc, 1)
	require.NoError(t, err)
	signal := r.Run(context.Background())

	require.NoError(t, r.GracefulShutdown(context.Background()))
	assert.NoError(t, waitDone(t, signal))
}

func TestShutdownBeforeRun(t *testing.T) {
	pool := newTestPool(1, nil)
	r, err := pool.CreateReplica(context.Background(), descriptor("a", "sleep"), 1)
	require.NoError(t, err)

	require.NoError(t, r.GracefulShutdown(context.Background()))
	assert.True(t, replica.IsDone(r.Completion()))
	assert.Equal(t, 0, pool.ReplicaCount())
}

func TestKillResolvesImmediately(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	works := map[string]WorkFunc{
		// ignores its context on purpose
		"stuck": func(ctx context.Context, rt *Runtime) error { <-block; return nil },
	}
	pool := newTestPool(1, works)
	r, err := pool.CreateReplica(context.Background(), descriptor("a", "stuck"), 1)
	require.NoError(t, err)
	signal := r.Run(context.Background())

	r.Kill(context.Background())
	r.Kill(context.Background())

	assert.ErrorIs(t, waitDone(t, signal), replica.ErrKilled)
	assert.Equal(t, 0, pool.ReplicaCount())
	assert.ErrorIs(t, r.Pause(context.Background()), replica.ErrKilled)
}

func TestPauseBlocksCheckpoint(t *testing.T) {
	progressed := make(chan struct{}, 1)
	works := map[string]WorkFunc{
		"step": func(ctx context.Context, rt *Runtime) error {
			if err := rt.Checkpoint(ctx); err != nil {
				return err
			}
			progressed <- struct{}{}
			return nil
		},
	}
	pool := newTestPool(1, works)
	r, err := pool.CreateReplica(context.Background(), descriptor("a", "step"), 1)
	require.NoError(t, err)

	require.NoError(t, r.Pause(context.Background()))
	assert.True(t, r.Paused())
	signal := r.Run(context.Background())

	select {
	case <-progressed:
		t.Fatal("work progressed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, r.Resume(context.Background()))
	assert.NoError(t, waitDone(t, signal))
	assert.Len(t, progressed, 1)
}

func TestDrainRequiresBindings(t *testing.T) {
	pool := newTestPool(1, nil)
	desc := descriptor("d", "drain")
	desc.InputQueue = "in"
	desc.Parameters = map[string]string{"items": "2", "per_item": "1ms"}

	unboundReplica, err := pool.CreateReplica(context.Background(), desc, 1)
	require.NoError(t, err)
	err = waitDone(t, unboundReplica.Run(context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not bound")

	bound, err := pool.CreateReplica(context.Background(), desc, 2)
	require.NoError(t, err)
	require.NoError(t, bound.EvaluateQueues(context.Background(),
		types.QueueBindings{"in": {Kind: "memory", Address: "in-0"}}))
	assert.NoError(t, waitDone(t, bound.Run(context.Background())))
}

func TestStopKillsLiveReplicas(t *testing.T) {
	pool := newTestPool(1, nil)
	desc := descriptor("svc", "ticker")
	r, err := pool.CreateReplica(context.Background(), desc, 1)
	require.NoError(t, err)
	signal := r.Run(context.Background())

	pool.Stop(context.Background())
	err = waitDone(t, signal)
	assert.True(t, errors.Is(err, replica.ErrKilled))
}
