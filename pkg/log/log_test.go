package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := WithCollector("log", "TRAINING_LOG")
	logger.Info().Msg("collected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "collector", entry["component"])
	assert.Equal(t, "log", entry["collector"])
	assert.Equal(t, "TRAINING_LOG", entry["data_type"])
	assert.Equal(t, "collected", entry["message"])

	buf.Reset()
	roleLogger := WithRole("actor")
	roleLogger.Warn().Msg("evicted")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "checkpoint", entry["component"])
	assert.Equal(t, "actor", entry["role"])
}

func TestInitRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	Logger.Error().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLevelMapping(t *testing.T) {
	tests := []struct {
		level Level
		want  zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.zerolog(), string(tt.level))
	}
}

func TestSetNode(t *testing.T) {
	tests := []struct {
		name     string
		id, rank int
		want     map[string]any
		absent   []string
	}{
		{name: "known", id: 3, rank: 0, want: map[string]any{"node_id": float64(3), "node_rank": float64(0)}},
		{name: "unknown rank", id: 1, rank: -1, want: map[string]any{"node_id": float64(1)}, absent: []string{"node_rank"}},
		{name: "unknown", id: -1, rank: -1, absent: []string{"node_id", "node_rank"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})
			SetNode(tt.id, tt.rank)

			logger := WithComponent("agent")
			logger.Info().Msg("up")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, "agent", entry["component"])
			for k, v := range tt.want {
				assert.Equal(t, v, entry[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, entry, k)
			}
		})
	}
}
