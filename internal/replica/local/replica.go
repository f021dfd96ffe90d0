package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

var errShutdown = errors.New("replica shutting down")

// Replica runs one instance of a job's work in its own goroutine.
type Replica struct {
	id    string
	label string
	desc  types.JobInstanceDescriptor
	work  WorkFunc
	pool  *Pool
	node  *node

	mu       sync.Mutex
	bindings types.QueueBindings
	resumeCh chan struct{} // non-nil while paused
	started  bool
	killed   bool
	cancel   context.CancelCauseFunc

	completion *replica.Completion
	release    sync.Once
}

var _ replica.Handle = (*Replica)(nil)

func newReplica(p *Pool, n *node, desc types.JobInstanceDescriptor, label string, work WorkFunc) *Replica {
	return &Replica{
		id:         uuid.NewString(),
		label:      label,
		desc:       desc,
		work:       work,
		pool:       p,
		node:       n,
		completion: replica.NewCompletion(),
	}
}

// ID is the pool-unique identifier of the replica.
func (r *Replica) ID() string { return r.id }

// Node is the id of the node the replica was placed on.
func (r *Replica) Node() string { return r.node.id }

func (r *Replica) Label() string { return r.label }

// Run starts the work goroutine. Calling it again returns the same signal.
// The work outlives ctx; use GracefulShutdown or Kill to stop it.
func (r *Replica) Run(ctx context.Context) replica.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.killed {
		return r.completion
	}
	r.started = true

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	r.cancel = cancel

	go r.loop(runCtx)
	return r.completion
}

func (r *Replica) loop(ctx context.Context) {
	defer r.releaseOnce()

	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		err = r.work(ctx, &Runtime{replica: r})
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	// A work that stops because it was asked to is a clean exit.
	if err != nil && errors.Is(context.Cause(ctx), errShutdown) && errors.Is(err, context.Canceled) {
		err = nil
	}

	if err != nil {
		log().Warn("Replica work failed", "label", r.label, "error", err)
	} else {
		log().Debug("Replica work finished", "label", r.label)
	}
	r.completion.Resolve(err)
}

func (r *Replica) releaseOnce() {
	r.release.Do(func() { r.pool.release(r) })
}

func (r *Replica) Pause(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.killed {
		return fmt.Errorf("pause %s: %w", r.label, replica.ErrKilled)
	}
	if r.resumeCh == nil {
		r.resumeCh = make(chan struct{})
	}
	return nil
}

func (r *Replica) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.killed {
		return fmt.Errorf("resume %s: %w", r.label, replica.ErrKilled)
	}
	r.unpauseLocked()
	return nil
}

func (r *Replica) unpauseLocked() {
	if r.resumeCh != nil {
		close(r.resumeCh)
		r.resumeCh = nil
	}
}

// Paused reports whether the replica is currently paused.
func (r *Replica) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumeCh != nil
}

// GracefulShutdown asks the work to stop by cancelling its context.
func (r *Replica) GracefulShutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unpauseLocked()
	if r.cancel != nil {
		r.cancel(errShutdown)
		return nil
	}
	// Never started: nothing will ever run, so resolve right away.
	r.completion.Resolve(nil)
	r.releaseOnce()
	return nil
}

// Kill resolves the replica as killed and frees its reservation immediately.
// A work goroutine that ignores its context keeps running detached.
func (r *Replica) Kill(ctx context.Context) {
	r.mu.Lock()
	if r.killed {
		r.mu.Unlock()
		return
	}
	r.killed = true
	r.unpauseLocked()
	if r.cancel != nil {
		r.cancel(replica.ErrKilled)
	}
	r.mu.Unlock()

	r.completion.Resolve(replica.ErrKilled)
	r.releaseOnce()
}

func (r *Replica) EvaluateQueues(ctx context.Context, bindings types.QueueBindings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.killed {
		return fmt.Errorf("evaluate queues on %s: %w", r.label, replica.ErrKilled)
	}
	r.bindings = bindings.Clone()
	return nil
}

// Bindings returns the queue bindings the replica currently holds.
func (r *Replica) Bindings() types.QueueBindings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings.Clone()
}

// Completion exposes the run signal without starting the replica.
func (r *Replica) Completion() replica.Signal { return r.completion }

// Runtime is what a work function sees of its replica.
type Runtime struct {
	replica *Replica
}

func (rt *Runtime) Label() string { return rt.replica.label }

func (rt *Runtime) Descriptor() types.JobInstanceDescriptor { return rt.replica.desc }

// Bindings returns the current queue bindings; they may change while running.
func (rt *Runtime) Bindings() types.QueueBindings { return rt.replica.Bindings() }

// Param returns a descriptor parameter or def when unset.
func (rt *Runtime) Param(key, def string) string {
	if v, ok := rt.replica.desc.Parameters[key]; ok && v != "" {
		return v
	}
	return def
}

// Checkpoint blocks while the replica is paused and reports cancellation.
// Work functions call it between units of work.
func (rt *Runtime) Checkpoint(ctx context.Context) error {
	for {
		rt.replica.mu.Lock()
		ch := rt.replica.resumeCh
		rt.replica.mu.Unlock()

		if ch == nil {
			return ctx.Err()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
