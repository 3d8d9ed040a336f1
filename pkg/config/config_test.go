package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultRequiresThreshold(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg.Diagnosis.RestartThreshold = 3
	assert.NoError(t, cfg.Validate())
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "examples", "arobust.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Diagnosis.RestartThreshold)
	require.Len(t, cfg.Diagnosis.Rules, 4)
	assert.Equal(t, "hardware", cfg.Diagnosis.Rules[0].Name)
	assert.True(t, cfg.Diagnosis.Rules[0].Unrecoverable)
	assert.Equal(t, 2, cfg.Diagnosis.Rules[2].Threshold)
	assert.Equal(t, 30*time.Second, cfg.Collectors.Resource.Interval)
	assert.Equal(t, 1000, cfg.Collectors.Log.MaxLines)
	require.NotNil(t, cfg.Checkpoint.Roles["latest"].MaxCheckpoints)
	assert.Equal(t, 3, *cfg.Checkpoint.Roles["latest"].MaxCheckpoints)
	assert.Equal(t, int64(1000), cfg.Checkpoint.Roles["periodic"].SaveInterval)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("diagnosis:\n  restart_threshold: 2\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Diagnosis.RestartThreshold)
	assert.Equal(t, 5*time.Second, cfg.ReportTimeout)
	assert.Equal(t, 60*time.Second, cfg.Collectors.Log.Interval)
	assert.Equal(t, "worker", cfg.Node.Type)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("diagnosis: [unclosed"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, c *Config)
	}{
		{
			name: "node identity",
			env:  map[string]string{EnvNodeID: "4", EnvNodeType: "chief", EnvNodeRank: "2"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 4, c.Node.ID)
				assert.Equal(t, "chief", c.Node.Type)
				assert.Equal(t, 2, c.Node.Rank)
			},
		},
		{
			name: "unparsable ints fall back",
			env:  map[string]string{EnvNodeID: "abc", EnvNodeRank: ""},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, -1, c.Node.ID)
				assert.Equal(t, -1, c.Node.Rank)
			},
		},
		{
			name: "port, master and monitor",
			env:  map[string]string{EnvXPUTimerPort: "18889", EnvMasterAddr: "master:50051", EnvMonitorEnabled: "true"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 18889, c.Collectors.Metric.XPUTimerPort)
				assert.Equal(t, "master:50051", c.RemoteAddr)
				assert.True(t, c.MonitorEnabled)
			},
		},
		{
			name: "invalid bool ignored",
			env:  map[string]string{EnvMonitorEnabled: "maybe"},
			check: func(t *testing.T, c *Config) {
				assert.False(t, c.MonitorEnabled)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ApplyEnv(envMap(tt.env))
			tt.check(t, cfg)
		})
	}
}

func TestValidateRules(t *testing.T) {
	neg := -1
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unnamed rule", func(c *Config) {
			c.Diagnosis.Rules = []RuleConfig{{Contains: []string{"oom"}}}
		}},
		{"duplicate rule", func(c *Config) {
			c.Diagnosis.Rules = []RuleConfig{
				{Name: "oom", Contains: []string{"oom"}},
				{Name: "oom", Contains: []string{"memory"}},
			}
		}},
		{"rule without matcher", func(c *Config) {
			c.Diagnosis.Rules = []RuleConfig{{Name: "empty"}}
		}},
		{"negative rule threshold", func(c *Config) {
			c.Diagnosis.Rules = []RuleConfig{{Name: "oom", Contains: []string{"oom"}, Threshold: -2}}
		}},
		{"unknown role", func(c *Config) {
			c.Checkpoint.Roles["reward"] = RoleConfig{}
		}},
		{"negative retention", func(c *Config) {
			c.Checkpoint.Roles["actor"] = RoleConfig{MaxCheckpoints: &neg}
		}},
		{"zero report timeout", func(c *Config) {
			c.ReportTimeout = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Diagnosis.RestartThreshold = 3
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
