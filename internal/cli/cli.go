// ============================================================================
// Replica Scaler CLI - 命令行介面
// ============================================================================
//
// Package: internal/cli
// 文件: cli.go
// 功能: 基於 Cobra 的命令樹，涵蓋控制器、副本 Agent 與管理客戶端命令
//
// 命令結構:
//   replicactl                     # 根命令
//   ├── run                        # 啟動控制器與管理 API
//   ├── agent                      # 為遠端控制器託管副本
//   ├── validate                   # 檢查配置文件並列出任務
//   ├── status                     # 列出所有任務（管理 API）
//   ├── scale <job> <n>            # 設定副本數（管理 API）
//   ├── pause <job>                # 暫停所有副本（管理 API）
//   ├── resume <job>               # 恢復所有副本（管理 API）
//   ├── shutdown <job>             # 停止並移除任務（管理 API）
//   ├── --config, -c               # 配置文件（預設: configs/default.yaml）
//   └── --admin                    # 客戶端命令使用的管理 API 地址
//
// run 命令:
//   1. 載入配置，安裝 slog handler
//   2. 建立副本 factory（本地副本池、遠端 Agent）
//   3. 套用配置中的任務，或從存儲恢復
//   4. 運行管理 API、metrics、配置監聽與完成輪詢
//   5. 收到 SIGINT / SIGTERM 時優雅關閉所有任務
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/replica-scaler/internal/admin"
	"github.com/ChuLiYu/replica-scaler/internal/config"
	"github.com/ChuLiYu/replica-scaler/internal/controller"
	"github.com/ChuLiYu/replica-scaler/internal/metrics"
	"github.com/ChuLiYu/replica-scaler/internal/registry"
	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/internal/replica/local"
	"github.com/ChuLiYu/replica-scaler/internal/replica/remote"
	"github.com/ChuLiYu/replica-scaler/internal/store"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

var (
	configFile string
	adminAddr  string
)

// clientTimeout bounds every admin client command.
const clientTimeout = 30 * time.Second

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replicactl",
		Short: "replicactl: replica-scaling job controller",
		Long: `replicactl keeps the replicas of every configured job at their target:
- MANUAL and FOLLOW_QUEUE replication
- single-run and continuous jobs
- local node pool or remote replica agents
- Prometheus metrics and a gRPC admin API`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", "", "admin API address (default: admin.listen from the config)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildAgentCommand())
	rootCmd.AddCommand(buildValidateCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildScaleCommand())
	rootCmd.AddCommand(buildManageCommand("pause", "Pause every replica of a job"))
	rootCmd.AddCommand(buildManageCommand("resume", "Resume every replica of a job"))
	rootCmd.AddCommand(buildShutdownCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the job controllers and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			slog.SetDefault(cfg.NewLogger(os.Stderr))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServices(ctx, cfg, configFile)
		},
	}
}

// runServices runs until ctx is cancelled, then shuts every job down.
// watchPath is the file re-applied on change when cfg.Watch is set.
func runServices(ctx context.Context, cfg *config.Config, watchPath string) error {
	pool := local.NewPool(local.Config{
		Nodes:      cfg.Local.Nodes,
		NodeCPU:    cfg.Local.NodeCPU,
		NodeMemory: cfg.Local.NodeMemory,
	})
	defer pool.Stop(context.WithoutCancel(ctx))

	factories := map[types.BackendKind]replica.Factory{types.BackendLocal: pool}
	if len(cfg.Remote.Agents) > 0 {
		agents := remote.NewFactory(remote.Config{Agents: cfg.Remote.Agents, DialTimeout: cfg.Remote.DialTimeout})
		defer agents.Close()
		factories[types.BackendRemote] = agents
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	manager := registry.New(factories, collector, registry.Options{
		ShutdownGrace: cfg.Controller.ShutdownGrace,
		Store:         store.New(cfg.Store.Path),
	})

	// configured jobs win; an empty job list falls back to the store
	if len(cfg.Jobs) > 0 {
		if err := manager.Apply(ctx, cfg.Jobs, cfg.Queues); err != nil {
			slog.Warn("Some jobs failed to apply", "error", err)
		}
	} else if err := manager.Restore(ctx); err != nil {
		slog.Warn("Restore failed", "error", err)
	}

	lis, err := net.Listen("tcp", cfg.Admin.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Admin.Listen, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return admin.NewServer(manager).Serve(gctx, lis) })
	if collector != nil {
		g.Go(func() error { return collector.StartServer(gctx, cfg.Metrics.Port) })
	}
	if cfg.Watch && watchPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, watchPath, config.DefaultDebounce, func(next *config.Config) {
				if err := manager.Apply(gctx, next.Jobs, next.Queues); err != nil {
					slog.Warn("Some jobs failed to apply", "error", err)
				}
			})
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Controller.FinishPoll)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				manager.Sweep(gctx)
			}
		}
	})

	slog.Info("System started successfully", "admin", lis.Addr().String(), "jobs", len(manager.Status()))
	err = g.Wait()

	slog.Info("Received shutdown signal, stopping gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Controller.ShutdownGrace+10*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	slog.Info("System stopped")
	return err
}

// ============================================================================
// agent
// ============================================================================

func buildAgentCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start a replica agent for remote controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			slog.SetDefault(cfg.NewLogger(os.Stderr))
			if listen == "" {
				listen = cfg.Agent.Listen
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}
			pool := local.NewPool(local.Config{
				Nodes:      cfg.Local.Nodes,
				NodeCPU:    cfg.Local.NodeCPU,
				NodeMemory: cfg.Local.NodeMemory,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return remote.NewAgentServer(pool).Serve(ctx, lis)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: agent.listen from the config)")
	return cmd
}

// ============================================================================
// validate
// ============================================================================

func buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and list its jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config %s is valid\n", configFile)
			for _, job := range cfg.Jobs {
				fmt.Fprintf(out, "  └─ %-24s %-12s backend=%s work=%s single_run=%t\n",
					job.InstanceID(), job.ReplicationMode, job.BackendOrDefault(), job.Work, job.SingleRun)
			}
			return nil
		},
	}
}

// ============================================================================
// admin client commands
// ============================================================================

// resolveAdmin picks the --admin flag, then admin.listen from the config.
func resolveAdmin() string {
	addr := adminAddr
	if addr == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			cfg = config.Default()
		}
		addr = cfg.Admin.Listen
	}
	return dialable(addr)
}

// dialable turns a listen address such as ":50051" into one a client can dial.
func dialable(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *admin.Client) error) error {
	client, err := admin.Dial(resolveAdmin())
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
	defer cancel()
	return fn(ctx, client)
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of every job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *admin.Client) error {
				jobs, err := c.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
}

func buildScaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scale <job> <replicas>",
		Short: "Set the replica count of a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return fmt.Errorf("replicas must be a non-negative integer, got %q", args[1])
			}
			return withClient(cmd, func(ctx context.Context, c *admin.Client) error {
				if err := c.Scale(ctx, args[0], n); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s scaled to %d\n", args[0], n)
				return nil
			})
		},
	}
}

func buildManageCommand(instruction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   instruction + " <job>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *admin.Client) error {
				if err := c.Manage(ctx, args[0], instruction); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s\n", args[0], instruction)
				return nil
			})
		},
	}
}

func buildShutdownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown <job>",
		Short: "Stop every replica of a job and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *admin.Client) error {
				if err := c.Shutdown(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s shut down\n", args[0])
				return nil
			})
		},
	}
}

func printStatus(out io.Writer, jobs []controller.Status) {
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           Replica Scaler Status                           ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	if len(jobs) == 0 {
		fmt.Fprintln(out, "  └─ no jobs")
		return
	}
	for _, j := range jobs {
		kind := "continuous"
		if j.SingleRun {
			kind = "single-run"
		}
		fmt.Fprintf(out, "📋 %s (%s, %s)\n", j.Job, j.State, kind)
		fmt.Fprintf(out, "  ├─ Replicas:   %d/%d\n", j.Live, j.Target)
		fmt.Fprintf(out, "  ├─ Exceptions: %d\n", j.Exceptions)
		fmt.Fprintf(out, "  └─ Labels:     %s\n", strings.Join(j.Replicas, ", "))
	}
}

// Execute runs the command tree and maps errors to an exit code.
func Execute(ctx context.Context) int {
	if err := BuildCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return 2
		}
		return 1
	}
	return 0
}
