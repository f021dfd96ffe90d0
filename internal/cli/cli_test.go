package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/replica-scaler/internal/admin"
	"github.com/ChuLiYu/replica-scaler/internal/config"
	"github.com/ChuLiYu/replica-scaler/internal/registry"
	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/internal/replica/local"
	"github.com/ChuLiYu/replica-scaler/internal/store"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "replicactl", cmd.Use, "Root command should be 'replicactl'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	// 檢查子命令
	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"run", "agent", "validate", "status", "scale", "pause", "resume", "shutdown"} {
		assert.True(t, commandNames[name], "Should have '%s' command", name)
	}

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")
	assert.NotNil(t, cmd.PersistentFlags().Lookup("admin"), "Should have --admin flag")
}

func TestBuildAgentCommand(t *testing.T) {
	cmd := buildAgentCommand()
	assert.Equal(t, "agent", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("listen"), "Should have --listen flag")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestDialable(t *testing.T) {
	assert.Equal(t, "localhost:50051", dialable(":50051"))
	assert.Equal(t, "10.0.0.1:50051", dialable("10.0.0.1:50051"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "Failed to write test config file")
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	adminAddr = ""
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, `
jobs:
  - name: web
    replication_mode: MANUAL
    target_replicas: 2
    work: ticker
`)
	out, err := execute(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "web")
}

func TestValidateCommand_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "local:\n  nodes: \"not a number\"\n  broken indentation\n")
	_, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestValidateCommand_FileNotFound(t *testing.T) {
	_, err := execute(t, "validate", "-c", "/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestScaleCommand_BadReplicas(t *testing.T) {
	_, err := execute(t, "scale", "web", "many")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative integer")
}

// startAdmin serves the admin API on a loopback port for the client commands.
func startAdmin(t *testing.T) (string, *registry.Manager) {
	t.Helper()
	pool := local.NewPool(local.Config{Nodes: 1, NodeCPU: 8, NodeMemory: 1 << 30})
	m := registry.New(map[types.BackendKind]replica.Factory{types.BackendLocal: pool}, nil,
		registry.Options{ShutdownGrace: 100 * time.Millisecond})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = admin.NewServer(m).Serve(ctx, lis) }()

	t.Cleanup(func() {
		m.Shutdown(context.Background())
		cancel()
		pool.Stop(context.Background())
	})
	return lis.Addr().String(), m
}

func TestClientCommands(t *testing.T) {
	addr, m := startAdmin(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, []types.JobInstanceDescriptor{{
		Name:            "web",
		ReplicationMode: types.ReplicationManual,
		TargetReplicas:  1,
		Resources:       types.ResourceRequest{CPU: 1},
		Work:            "ticker",
		Parameters:      map[string]string{"interval": "5ms"},
	}}, nil))

	out, err := execute(t, "scale", "web", "2", "--admin", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "web scaled to 2")

	out, err = execute(t, "pause", "web", "--admin", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "web: pause")

	out, err = execute(t, "status", "--admin", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "web (paused, continuous)")
	assert.Contains(t, out, "Replicas:   2/")
	assert.Contains(t, out, "web-1, web-2")

	_, err = execute(t, "resume", "web", "--admin", addr)
	require.NoError(t, err)

	_, err = execute(t, "shutdown", "web", "--admin", addr)
	require.NoError(t, err)
	out, err = execute(t, "status", "--admin", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "no jobs")

	_, err = execute(t, "scale", "missing", "1", "--admin", addr)
	assert.Error(t, err)
}

func TestRunServices(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Admin.Listen = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.Controller.FinishPoll = 10 * time.Millisecond
	cfg.Controller.ShutdownGrace = 100 * time.Millisecond
	cfg.Store.Path = filepath.Join(dir, "jobs.json")
	cfg.Jobs = []types.JobInstanceDescriptor{{
		Name:            "batch",
		ReplicationMode: types.ReplicationManual,
		TargetReplicas:  2,
		SingleRun:       true,
		Resources:       types.ResourceRequest{CPU: 1},
		Work:            "sleep",
		Parameters:      map[string]string{"duration": "10ms"},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, runServices(ctx, cfg, ""))

	state, err := store.New(cfg.Store.Path).Load()
	require.NoError(t, err)
	require.Len(t, state.Descriptors, 1)
	assert.Equal(t, "batch", state.Descriptors[0].Name)
}
