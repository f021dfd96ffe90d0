package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 安裝在 package 初始化之後的 handler 也必須生效
func TestLogsGoThroughInstalledHandler(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	f := &fakeFactory{failOrdinals: map[int]bool{2: true}}
	c, _ := newTestController(t, manual(2, false), f)
	require.NoError(t, c.Start(context.Background(), nil))

	levels := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		msg, _ := rec["msg"].(string)
		levels[msg], _ = rec["level"].(string)
		if msg == "Replica placement failed" {
			assert.Equal(t, "job-2", rec["label"])
		}
	}

	assert.Equal(t, "DEBUG", levels["Replica created"])
	assert.Equal(t, "WARN", levels["Replica placement failed"])
}
