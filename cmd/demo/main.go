package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/replica-scaler/internal/config"
	"github.com/ChuLiYu/replica-scaler/internal/controller"
	"github.com/ChuLiYu/replica-scaler/internal/replica/local"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <batch|scale>")
		os.Exit(1)
	}

	mode := os.Args[1]
	cfg, err := config.Load("configs/default.yaml")
	if err != nil {
		log.Printf("Using built-in defaults: %v", err)
		cfg = config.Default()
	}

	pool := local.NewPool(local.Config{
		Nodes:      cfg.Local.Nodes,
		NodeCPU:    cfg.Local.NodeCPU,
		NodeMemory: cfg.Local.NodeMemory,
	})
	defer pool.Stop(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "batch":
		err = runBatch(ctx, pool)
	case "scale":
		err = runScale(ctx, pool, cfg.Controller.ShutdownGrace)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		log.Fatalf("Demo failed: %v", err)
	}
}

// runBatch runs a single-run job with one replica per shard until every
// replica has exited.
func runBatch(ctx context.Context, pool *local.Pool) error {
	ctrl, err := controller.New(controller.Config{
		Descriptor: types.JobInstanceDescriptor{
			Name:            "batch",
			ReplicationMode: types.ReplicationFollowQueue,
			// one replica per extra queue
			ExtraQueueReferences: []types.QueueReference{"shard-a", "shard-b", "shard-c"},
			SingleRun:            true,
			Resources:            types.ResourceRequest{CPU: 1, MemoryBytes: 64 << 20},
			PlacementStrategy:    types.PlacementSpread,
			Work:                 "drain",
			Parameters:           map[string]string{"items": "20", "per_item": "20ms"},
		},
		Factory: pool,
	})
	if err != nil {
		return err
	}

	bindings := types.QueueBindings{}
	for _, shard := range []types.QueueReference{"shard-a", "shard-b", "shard-c"} {
		bindings[shard] = types.QueueEndpoint{Kind: "memory", Address: string(shard) + "-0"}
	}
	if err := ctrl.EvaluateQueues(ctx, bindings); err != nil {
		return err
	}
	if err := ctrl.Start(ctx, nil); err != nil {
		return err
	}
	fmt.Printf("✓ Single-run job started, replicas: %v\n", ctrl.Replicas())

	for !ctrl.Finished(ctx, 200*time.Millisecond) {
		fmt.Printf("⏳ %d replicas still running...\n", len(ctrl.Replicas()))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	fmt.Printf("\n📊 Outcome: successful=%t failed=%t\n", ctrl.Successful(ctx), ctrl.Failed(ctx))
	for _, e := range ctrl.Exceptions(ctx) {
		fmt.Printf("  ❌ %v\n", e)
	}
	return nil
}

// runScale walks a continuous job through scale up, scale down, pause and
// shutdown, printing the live replica labels after each step.
func runScale(ctx context.Context, pool *local.Pool, grace time.Duration) error {
	ctrl, err := controller.New(controller.Config{
		Descriptor: types.JobInstanceDescriptor{
			Name:            "web",
			ReplicationMode: types.ReplicationManual,
			TargetReplicas:  1,
			Resources:       types.ResourceRequest{CPU: 0.5, MemoryBytes: 32 << 20},
			Work:            "ticker",
			Parameters:      map[string]string{"interval": "500ms"},
		},
		Factory:       pool,
		ShutdownGrace: grace,
	})
	if err != nil {
		return err
	}

	show := func(step string) {
		fmt.Printf("%-14s state=%-8s replicas=%v\n", step, ctrl.State(), ctrl.Replicas())
	}

	if err := ctrl.Start(ctx, nil); err != nil {
		return err
	}
	show("start")

	for _, n := range []int{5, 2, 4} {
		if err := ctrl.Scale(ctx, n); err != nil {
			return err
		}
		show(fmt.Sprintf("scale → %d", n))
	}

	if err := ctrl.Pause(ctx); err != nil {
		return err
	}
	show("pause")
	if err := ctrl.Resume(ctx); err != nil {
		return err
	}
	show("resume")

	fmt.Println("\n💡 Press Ctrl+C to shut the job down")
	<-ctx.Done()

	if err := ctrl.GracefulShutdown(context.Background(), nil); err != nil {
		return err
	}
	show("shutdown")
	return nil
}
