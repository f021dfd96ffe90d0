package controller

import (
	"context"
	"sync"
)

// gate is the readiness gate of a controller. It starts closed, opens exactly
// once and never closes again.
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

// Open releases every current and future waiter. Safe to call repeatedly.
func (g *gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

func (g *gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx is done.
func (g *gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
