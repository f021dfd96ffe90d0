package local

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// WorkFunc is the body of a replica. Returning nil is success.
type WorkFunc func(ctx context.Context, rt *Runtime) error

// ErrConfiguredFailure is returned by the sleep work when asked to fail.
var ErrConfiguredFailure = errors.New("configured failure")

// DefaultWorks returns the built-in work functions.
func DefaultWorks() map[string]WorkFunc {
	return map[string]WorkFunc{
		"sleep":  Sleep,
		"ticker": Ticker,
		"drain":  Drain,
	}
}

// Sleep waits for the "duration" parameter and optionally fails ("fail"=true).
func Sleep(ctx context.Context, rt *Runtime) error {
	d, err := time.ParseDuration(rt.Param("duration", "100ms"))
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	if err := rt.Checkpoint(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}

	if err := rt.Checkpoint(ctx); err != nil {
		return err
	}
	if fail, _ := strconv.ParseBool(rt.Param("fail", "false")); fail {
		return ErrConfiguredFailure
	}
	return nil
}

// Ticker ticks every "interval" until shut down, or "max_ticks" times when set.
func Ticker(ctx context.Context, rt *Runtime) error {
	interval, err := time.ParseDuration(rt.Param("interval", "1s"))
	if err != nil {
		return fmt.Errorf("parse interval: %w", err)
	}
	maxTicks, err := strconv.Atoi(rt.Param("max_ticks", "0"))
	if err != nil {
		return fmt.Errorf("parse max_ticks: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ticks := 0
	for {
		if err := rt.Checkpoint(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ticks++
			log().Debug("Tick", "label", rt.Label(), "tick", ticks)
			if maxTicks > 0 && ticks >= maxTicks {
				return nil
			}
		}
	}
}

// Drain processes "items" work items from the bound input queue, spending
// "per_item" on each. It refuses to start while any of the job's queues is unbound.
func Drain(ctx context.Context, rt *Runtime) error {
	items, err := strconv.Atoi(rt.Param("items", "10"))
	if err != nil {
		return fmt.Errorf("parse items: %w", err)
	}
	perItem, err := time.ParseDuration(rt.Param("per_item", "10ms"))
	if err != nil {
		return fmt.Errorf("parse per_item: %w", err)
	}

	bindings := rt.Bindings()
	desc := rt.Descriptor()
	if missing := unbound(desc, bindings); len(missing) > 0 {
		return fmt.Errorf("queues not bound: %v", missing)
	}

	for i := 0; i < items; i++ {
		if err := rt.Checkpoint(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(perItem):
		}
	}
	log().Debug("Drained input queue", "label", rt.Label(), "items", items,
		"queue", bindings[desc.InputQueue].Address)
	return nil
}

func unbound(desc types.JobInstanceDescriptor, bindings types.QueueBindings) []types.QueueReference {
	var missing []types.QueueReference
	for _, ref := range desc.QueueReferences() {
		if _, ok := bindings[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	return missing
}
