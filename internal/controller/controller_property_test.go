package controller

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

func TestScaleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("live count and gauge follow every scale", prop.ForAll(
		func(targets []int) bool {
			ctx := context.Background()
			c, err := New(Config{Descriptor: manual(0, false), Factory: &fakeFactory{}, Sink: &countingSink{}})
			if err != nil {
				return false
			}
			sink := c.sink.(safeSink).next.(*countingSink)
			for _, n := range targets {
				if err := c.Scale(ctx, n); err != nil {
					return false
				}
				if len(c.Replicas()) != n || sink.value.Load() != int64(n) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 8)),
	))

	properties.Property("repeating a scale creates nothing", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			f := &fakeFactory{}
			c, err := New(Config{Descriptor: manual(0, false), Factory: f})
			if err != nil {
				return false
			}
			_ = c.Scale(ctx, n)
			before := len(f.events.all())
			_ = c.Scale(ctx, n)
			return len(f.events.all()) == before
		},
		gen.IntRange(0, 10),
	))

	properties.Property("follow-queue target is the number of extra queues", prop.ForAll(
		func(refs []string) bool {
			desc := manual(0, false)
			desc.ReplicationMode = types.ReplicationFollowQueue
			for _, r := range refs {
				desc.ExtraQueueReferences = append(desc.ExtraQueueReferences, types.QueueReference(r))
			}
			c, err := New(Config{Descriptor: desc, Factory: &fakeFactory{}})
			if err != nil {
				return false
			}
			n, err := c.TargetReplicas()
			return err == nil && n == len(refs)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
