// ============================================================================
// Replica 契約 - 控制器與副本執行端之間的邊界
// ============================================================================
//
// Package: internal/replica
// 文件: replica.go
// 功能: 定義控制器驅動副本所需的介面（goroutine、Agent 上的進程等）
//
//   Controller --Factory.Create--> Handle --Run--> Signal
//                                    ├─ Pause / Resume
//                                    ├─ GracefulShutdown（協作式）
//                                    ├─ Kill（強制，永不失敗）
//                                    └─ EvaluateQueues（綁定重放）
//
// ============================================================================

package replica

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

//go:generate mockgen -destination=mock_replica/mock_replica.go -package=mock_replica github.com/ChuLiYu/replica-scaler/internal/replica Handle,Factory,MetricsSink

// ErrKilled is the outcome of a replica that was terminated by Kill.
var ErrKilled = errors.New("replica killed")

// Signal resolves once a replica's run is over.
type Signal interface {
	// Done is closed when the run finished.
	Done() <-chan struct{}
	// Err is the run outcome. Only meaningful after Done is closed.
	Err() error
}

// Handle is an opaque reference to one running replica.
type Handle interface {
	Label() string
	Run(ctx context.Context) Signal
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	GracefulShutdown(ctx context.Context) error
	// Kill terminates the replica unconditionally.
	Kill(ctx context.Context)
	EvaluateQueues(ctx context.Context, bindings types.QueueBindings) error
}

// MetricsSink is the named gauge a controller reports its replica count to.
type MetricsSink interface {
	Increment()
	Decrement()
	Set(value float64)
}

// Factory builds replica handles for a descriptor.
// Implementations return a *PlacementError when the resource request or the
// placement strategy cannot be satisfied. sink is the job's replica gauge; the
// controller already counts every handle on it, so a backend only uses it for
// replicas it creates or removes on its own.
type Factory interface {
	Create(ctx context.Context, desc types.JobInstanceDescriptor, ordinal int, sink MetricsSink) (Handle, error)
}

// Label derives the replica label from the job name and its ordinal.
func Label(name string, ordinal int) string {
	return fmt.Sprintf("%s-%d", name, ordinal)
}

// PlacementError reports that a replica could not be created.
type PlacementError struct {
	Label  string
	Reason string
	Err    error
}

func (e *PlacementError) Error() string {
	msg := fmt.Sprintf("placement of %s failed: %s", e.Label, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlacementError) Unwrap() error { return e.Err }

// ReplicaExecutionError wraps a failure raised inside a running replica.
type ReplicaExecutionError struct {
	Label string
	Err   error
}

func (e *ReplicaExecutionError) Error() string {
	return fmt.Sprintf("replica %s failed: %v", e.Label, e.Err)
}

func (e *ReplicaExecutionError) Unwrap() error { return e.Err }

// NoopSink discards every update.
type NoopSink struct{}

func (NoopSink) Increment()  {}
func (NoopSink) Decrement()  {}
func (NoopSink) Set(float64) {}
