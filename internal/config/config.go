// ============================================================================
// Replica Scaler 配置
// ============================================================================
//
// Package: internal/config
// 文件: config.go
// 功能: YAML 配置（預設: configs/default.yaml）、驗證、
//       logger 建立，以及重新套用任務定義的文件監聽
//
// 配置段:
//   - log:        slog handler 的級別 / 格式
//   - controller: 完成輪詢間隔與關閉寬限期
//   - local:      本地後端的模擬節點池
//   - remote:     遠端後端的 Agent 地址
//   - agent:      以 Agent 模式運行時的監聽地址
//   - admin:      管理 gRPC API 的監聽地址
//   - metrics:    Prometheus 端點
//   - store:      描述符存儲路徑
//   - queues:     隊列引用 -> 端點綁定
//   - jobs:       任務實例描述符
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`

	Controller struct {
		FinishPoll    time.Duration `yaml:"finish_poll"`
		ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	} `yaml:"controller"`

	Local struct {
		Nodes      int     `yaml:"nodes"`
		NodeCPU    float64 `yaml:"node_cpu"`
		NodeMemory int64   `yaml:"node_memory"`
	} `yaml:"local"`

	Remote struct {
		Agents      []string      `yaml:"agents"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
	} `yaml:"remote"`

	Agent struct {
		Listen string `yaml:"listen"`
	} `yaml:"agent"`

	Admin struct {
		Listen string `yaml:"listen"`
	} `yaml:"admin"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Queues types.QueueBindings          `yaml:"queues"`
	Jobs   []types.JobInstanceDescriptor `yaml:"jobs"`
	Watch  bool                          `yaml:"watch"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	var c Config
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Controller.FinishPoll = time.Second
	c.Controller.ShutdownGrace = 5 * time.Second
	c.Local.Nodes = 4
	c.Local.NodeCPU = 4
	c.Local.NodeMemory = 8 << 30
	c.Remote.DialTimeout = 3 * time.Second
	c.Agent.Listen = ":50061"
	c.Admin.Listen = ":50051"
	c.Metrics.Enabled = true
	c.Metrics.Port = 9090
	c.Store.Path = "data/jobs.json"
	return &c
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the services cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Controller.FinishPoll <= 0 {
		errs = append(errs, errors.New("controller.finish_poll must be positive"))
	}
	if c.Local.Nodes <= 0 {
		errs = append(errs, errors.New("local.nodes must be positive"))
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}

	seen := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if err := job.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[job.InstanceID()] {
			errs = append(errs, fmt.Errorf("job %s defined twice", job.InstanceID()))
		}
		seen[job.InstanceID()] = true
		if job.BackendOrDefault() == types.BackendRemote && len(c.Remote.Agents) == 0 {
			errs = append(errs, fmt.Errorf("job %s uses the remote backend but remote.agents is empty", job.InstanceID()))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
