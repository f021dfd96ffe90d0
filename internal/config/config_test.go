package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

const sample = `
log:
  level: debug
  format: json
controller:
  finish_poll: 250ms
  shutdown_grace: 2s
local:
  nodes: 2
  node_cpu: 8
  node_memory: 1073741824
remote:
  agents: ["10.0.0.1:50061"]
metrics:
  enabled: false
queues:
  orders: {kind: memory, address: orders-0}
jobs:
  - name: web
    replication_mode: MANUAL
    target_replicas: 3
    resources: {cpu: 0.5, memory_bytes: 1048576}
    work: ticker
    parameters: {interval: 1s}
  - name: etl
    group: nightly
    replication_mode: FOLLOW_QUEUE
    extra_queue_references: [a, b]
    single_run: true
    backend: remote
    work: drain
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Controller.FinishPoll)
	assert.Equal(t, 2*time.Second, cfg.Controller.ShutdownGrace)
	assert.Equal(t, 2, cfg.Local.Nodes)
	assert.Equal(t, int64(1<<30), cfg.Local.NodeMemory)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, types.QueueEndpoint{Kind: "memory", Address: "orders-0"}, cfg.Queues["orders"])

	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, 3, cfg.Jobs[0].TargetReplicas)
	assert.Equal(t, "1s", cfg.Jobs[0].Parameters["interval"])
	assert.Equal(t, "nightly/etl", cfg.Jobs[1].InstanceID())
	assert.Equal(t, types.BackendRemote, cfg.Jobs[1].Backend)
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("log:\n  level: warn\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Admin.Listen, cfg.Admin.Listen)
	assert.Equal(t, def.Controller.ShutdownGrace, cfg.Controller.ShutdownGrace)
	assert.Equal(t, def.Metrics.Port, cfg.Metrics.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "log: {level: loud}"},
		{"bad format", "log: {format: xml}"},
		{"zero poll", "controller: {finish_poll: 0s}"},
		{"no nodes", "local: {nodes: 0}"},
		{"bad port", "metrics: {enabled: true, port: 70000}"},
		{"duplicate job", "jobs: [{name: a, replication_mode: MANUAL, work: sleep}, {name: a, replication_mode: MANUAL, work: sleep}]"},
		{"remote without agents", "jobs: [{name: a, replication_mode: MANUAL, work: sleep, backend: remote}]"},
		{"invalid descriptor", "jobs: [{name: a, replication_mode: MANUAL, target_replicas: -1, work: sleep}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "job", "web")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"job":"web"`)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: []\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, 20*time.Millisecond, func(c *Config) { got <- c }) }()

	// give the watcher time to register before the write
	time.Sleep(100 * time.Millisecond)

	// invalid content is skipped
	require.NoError(t, os.WriteFile(path, []byte("log: {level: loud}\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("jobs: [{name: a, replication_mode: MANUAL, target_replicas: 1, work: sleep}]\n"), 0o644))

	select {
	case cfg := <-got:
		require.Len(t, cfg.Jobs, 1)
		assert.Equal(t, "a", cfg.Jobs[0].Name)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	assert.NoError(t, <-done)
}
