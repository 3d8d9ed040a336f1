package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arobust/arobust/pkg/types"
)

// Environment keys that override file configuration.
const (
	EnvNodeID         = "AROBUST_NODE_ID"
	EnvNodeType       = "AROBUST_NODE_TYPE"
	EnvNodeRank       = "AROBUST_NODE_RANK"
	EnvXPUTimerPort   = "AROBUST_XPU_TIMER_PORT"
	EnvMasterAddr     = "AROBUST_MASTER_ADDR"
	EnvMonitorEnabled = "AROBUST_MONITOR_ENABLED"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the agent configuration
type Config struct {
	Node              NodeConfig       `yaml:"node"`
	MonitorEnabled    bool             `yaml:"monitor_enabled"`
	RemoteAddr        string           `yaml:"remote_addr"`
	RemoteCAFile      string           `yaml:"remote_ca_file"`
	ReportTimeout     time.Duration    `yaml:"report_timeout"`
	HeartbeatInterval time.Duration    `yaml:"heartbeat_interval"`
	Reporter          ReporterConfig   `yaml:"reporter"`
	Collectors        CollectorsConfig `yaml:"collectors"`
	Diagnosis         DiagnosisConfig  `yaml:"diagnosis"`
	Checkpoint        CheckpointConfig `yaml:"checkpoint"`
	Monitor           MonitorConfig    `yaml:"monitor"`
	MetricsAddr       string           `yaml:"metrics_addr"`
	Log               LogConfig        `yaml:"log"`
}

// NodeConfig identifies this node
type NodeConfig struct {
	ID   int    `yaml:"id"`
	Type string `yaml:"type"`
	Rank int    `yaml:"rank"`
}

// Info converts the node section into a types.NodeInfo
func (n NodeConfig) Info() types.NodeInfo {
	return types.NodeInfo{ID: n.ID, Type: n.Type, Rank: n.Rank}
}

// ReporterConfig tunes the optional decorators around the remote client
type ReporterConfig struct {
	Retry          bool          `yaml:"retry"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	LocalRetention time.Duration `yaml:"local_retention"`
}

// CollectorConfig is shared by every collector section
type CollectorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type LogCollectorConfig struct {
	CollectorConfig `yaml:",inline"`
	Path            string `yaml:"path"`
	MaxLines        int    `yaml:"max_lines"`
}

type MetricCollectorConfig struct {
	CollectorConfig `yaml:",inline"`
	XPUTimerPort    int `yaml:"xpu_timer_port"`
}

// StackCollectorConfig configures stack dumps. Command dumps the training
// process; without it nothing is collected unless Self asks for the agent's
// own goroutines.
type StackCollectorConfig struct {
	CollectorConfig `yaml:",inline"`
	Command         []string      `yaml:"command"`
	Timeout         time.Duration `yaml:"timeout"`
	Self            bool          `yaml:"self"`
}

type ResourceCollectorConfig struct {
	CollectorConfig `yaml:",inline"`
	ProcPath        string `yaml:"proc_path"`
	NvidiaSMI       string `yaml:"nvidia_smi"`
}

// CollectorsConfig configures the default collector set
type CollectorsConfig struct {
	MinInterval time.Duration           `yaml:"min_interval"`
	Resource    ResourceCollectorConfig `yaml:"resource"`
	Metric      MetricCollectorConfig   `yaml:"metric"`
	Log         LogCollectorConfig      `yaml:"log"`
	Stack       StackCollectorConfig    `yaml:"stack"`
}

// RuleConfig is one entry of the ordered failure rule table
type RuleConfig struct {
	Name          string   `yaml:"name"`
	Category      string   `yaml:"category"`
	Keys          []string `yaml:"keys"`
	Contains      []string `yaml:"contains"`
	Pattern       string   `yaml:"pattern"`
	Unrecoverable bool     `yaml:"unrecoverable"`
	Threshold     int      `yaml:"threshold"`
}

// DiagnosisConfig holds the decision policy
type DiagnosisConfig struct {
	RestartThreshold int          `yaml:"restart_threshold"`
	Rules            []RuleConfig `yaml:"rules"`
}

// RoleConfig is the retention policy of one checkpoint role
type RoleConfig struct {
	MaxCheckpoints     *int  `yaml:"max_checkpoints"`
	StrictlyIncreasing bool  `yaml:"strictly_increasing"`
	SaveInterval       int64 `yaml:"save_interval"`
}

// CheckpointConfig locates the checkpoint store
type CheckpointConfig struct {
	Root  string                `yaml:"root"`
	Roles map[string]RoleConfig `yaml:"roles"`
}

// MonitorConfig configures the training progress monitor
type MonitorConfig struct {
	MetricsPath string        `yaml:"metrics_path"`
	Interval    time.Duration `yaml:"interval"`
	ReportGap   time.Duration `yaml:"report_gap"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a configuration with every optional value filled in.
// The restart threshold is left unset and must be configured.
func Default() *Config {
	return &Config{
		Node:              NodeConfig{ID: -1, Type: "worker", Rank: -1},
		ReportTimeout:     5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Reporter: ReporterConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			RateBurst:      10,
			LocalRetention: 600 * time.Second,
		},
		Collectors: CollectorsConfig{
			MinInterval: time.Second,
			Resource: ResourceCollectorConfig{
				CollectorConfig: CollectorConfig{Enabled: true, Interval: 30 * time.Second},
				ProcPath:        "/proc",
				NvidiaSMI:       "nvidia-smi",
			},
			Metric: MetricCollectorConfig{
				CollectorConfig: CollectorConfig{Enabled: true, Interval: 60 * time.Second},
			},
			Log: LogCollectorConfig{
				CollectorConfig: CollectorConfig{Enabled: true, Interval: 60 * time.Second},
				MaxLines:        1000,
			},
			Stack: StackCollectorConfig{
				CollectorConfig: CollectorConfig{Enabled: false, Interval: 120 * time.Second},
				Timeout:         10 * time.Second,
			},
		},
		Checkpoint: CheckpointConfig{Roles: map[string]RoleConfig{}},
		Monitor: MonitorConfig{
			MetricsPath: "/tmp/arobust/training_metrics.json",
			Interval:    15 * time.Second,
			ReportGap:   15 * time.Second,
		},
		MetricsAddr: "127.0.0.1:9464",
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables resolved by lookup.
// Node ints that cannot be parsed fall back to -1.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvNodeID); ok {
		c.Node.ID = parseIntOr(v, -1)
	}
	if v, ok := lookup(EnvNodeType); ok && v != "" {
		c.Node.Type = v
	}
	if v, ok := lookup(EnvNodeRank); ok {
		c.Node.Rank = parseIntOr(v, -1)
	}
	if v, ok := lookup(EnvXPUTimerPort); ok {
		c.Collectors.Metric.XPUTimerPort = parseIntOr(v, 0)
	}
	if v, ok := lookup(EnvMasterAddr); ok && v != "" {
		c.RemoteAddr = v
	}
	if v, ok := lookup(EnvMonitorEnabled); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.MonitorEnabled = b
		}
	}
}

func parseIntOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

// Validate checks the configuration for values the agent cannot run with
func (c *Config) Validate() error {
	if c.Diagnosis.RestartThreshold <= 0 {
		return fmt.Errorf("%w: diagnosis.restart_threshold must be a positive integer", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Diagnosis.Rules))
	for i, r := range c.Diagnosis.Rules {
		if r.Name == "" {
			return fmt.Errorf("%w: diagnosis.rules[%d] has no name", ErrInvalidConfig, i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%w: duplicate rule name %q", ErrInvalidConfig, r.Name)
		}
		seen[r.Name] = struct{}{}
		if len(r.Contains) == 0 && r.Pattern == "" {
			return fmt.Errorf("%w: rule %q needs contains or pattern", ErrInvalidConfig, r.Name)
		}
		if r.Threshold < 0 {
			return fmt.Errorf("%w: rule %q has a negative threshold", ErrInvalidConfig, r.Name)
		}
	}
	if c.ReportTimeout <= 0 {
		return fmt.Errorf("%w: report_timeout must be positive", ErrInvalidConfig)
	}
	if c.Collectors.Log.Enabled && c.Collectors.Log.MaxLines <= 0 {
		return fmt.Errorf("%w: collectors.log.max_lines must be positive", ErrInvalidConfig)
	}
	for name, rc := range c.Checkpoint.Roles {
		if !types.Role(name).Valid() {
			return fmt.Errorf("%w: unknown checkpoint role %q", ErrInvalidConfig, name)
		}
		if rc.MaxCheckpoints != nil && *rc.MaxCheckpoints < 0 {
			return fmt.Errorf("%w: checkpoint role %q has negative max_checkpoints", ErrInvalidConfig, name)
		}
		if rc.SaveInterval < 0 {
			return fmt.Errorf("%w: checkpoint role %q has negative save_interval", ErrInvalidConfig, name)
		}
	}
	return nil
}
