// Package binding keeps the last evaluated queue-binding map of a job and
// replays it onto replicas that have not seen it yet.
package binding

import (
	"context"
	"sync"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// Receiver is anything that accepts a binding map, typically a replica.Handle.
type Receiver interface {
	EvaluateQueues(ctx context.Context, bindings types.QueueBindings) error
}

// Generation identifies one stored binding map. Zero means nothing was stored.
type Generation uint64

// Propagator stores the latest binding map. Every distinct map gets a new
// generation; receivers track the generation they last received.
type Propagator struct {
	mu         sync.RWMutex
	bindings   types.QueueBindings
	generation Generation
}

// Store keeps a private copy of bindings. Storing a map equal to the current
// one keeps the generation, so replicas are not re-sent what they already hold.
func (p *Propagator) Store(bindings types.QueueBindings) Generation {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation > 0 && p.bindings.Equal(bindings) {
		return p.generation
	}
	p.bindings = bindings.Clone()
	p.generation++
	return p.generation
}

// Current returns the stored map and its generation.
func (p *Propagator) Current() (types.QueueBindings, Generation) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bindings, p.generation
}

// Evaluated reports whether any map was stored yet.
func (p *Propagator) Evaluated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation > 0
}

// Replay sends the current map to r unless r already holds generation seen
// or a newer one. It returns the generation r holds afterwards; on error the
// old generation is returned so the next replay retries.
func (p *Propagator) Replay(ctx context.Context, r Receiver, seen Generation) (Generation, error) {
	bindings, gen := p.Current()
	if gen == 0 || seen >= gen {
		return seen, nil
	}
	if err := r.EvaluateQueues(ctx, bindings.Clone()); err != nil {
		return seen, err
	}
	return gen, nil
}
