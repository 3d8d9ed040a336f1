package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/metrics"
)

func monitorConfig(t *testing.T) config.MonitorConfig {
	return config.MonitorConfig{
		MetricsPath: filepath.Join(t.TempDir(), "training_metrics.json"),
		Interval:    10 * time.Millisecond,
		ReportGap:   15 * time.Second,
	}
}

func TestWriteAndReadTrainingMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.json")

	require.NoError(t, WriteTrainingMetrics(path, 100, 1700000000))
	got, err := ReadTrainingMetrics(path)
	require.NoError(t, err)
	assert.Equal(t, TrainingMetrics{Step: 100, Timestamp: 1700000000}, got)

	require.NoError(t, WriteTrainingMetrics(path, 200, 0))
	got, err = ReadTrainingMetrics(path)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Step)
	assert.InDelta(t, time.Now().Unix(), got.Timestamp, 5)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestReportStep(t *testing.T) {
	cfg := monitorConfig(t)
	m := NewTrainingMonitor(cfg, 0, true, WithLogger(zerolog.Nop()))

	assert.False(t, m.ReportStep(), "no file yet")

	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 0, 1000))
	assert.False(t, m.ReportStep(), "step 0 is not reported")

	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 10, 1000))
	assert.True(t, m.ReportStep())
	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.TrainingGlobalStep))

	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 11, 1015))
	assert.False(t, m.ReportStep(), "within the report gap")

	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 12, 1016))
	assert.True(t, m.ReportStep())

	step, ts := m.LastStep()
	assert.Equal(t, int64(12), step)
	assert.Equal(t, int64(1016), ts)
}

func TestReportStepOnlyOnRankZero(t *testing.T) {
	cfg := monitorConfig(t)
	m := NewTrainingMonitor(cfg, 3, true, WithLogger(zerolog.Nop()))

	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 10, 1000))
	assert.False(t, m.ReportStep())
}

func TestReportStepBadFile(t *testing.T) {
	cfg := monitorConfig(t)
	m := NewTrainingMonitor(cfg, 0, true, WithLogger(zerolog.Nop()))

	require.NoError(t, os.WriteFile(cfg.MetricsPath, []byte("not json"), 0644))
	assert.False(t, m.ReportStep())
}

func TestMonitorLoop(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	cfg := monitorConfig(t)
	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 5, 1000))

	m := NewTrainingMonitor(cfg, 0, true, WithLogger(zerolog.Nop()), WithBroker(broker))
	m.Start()
	defer m.Stop()

	_, err := os.Stat(cfg.MetricsPath)
	assert.True(t, os.IsNotExist(err), "stale progress file removed on start")

	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 42, time.Now().Unix()))

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.EventTrainingStepReport, ev.Type)
		assert.Equal(t, "42", ev.Metadata["step"])
	case <-time.After(2 * time.Second):
		t.Fatal("step was not reported")
	}
}

func TestDisabledMonitorDoesNotStart(t *testing.T) {
	cfg := monitorConfig(t)
	require.NoError(t, WriteTrainingMetrics(cfg.MetricsPath, 5, 1000))

	m := NewTrainingMonitor(cfg, 0, false, WithLogger(zerolog.Nop()))
	m.Start()
	m.Stop()

	assert.FileExists(t, cfg.MetricsPath)
}

func TestStopIdempotent(t *testing.T) {
	m := NewTrainingMonitor(monitorConfig(t), 0, true, WithLogger(zerolog.Nop()))
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestDefaults(t *testing.T) {
	m := NewTrainingMonitor(config.MonitorConfig{MetricsPath: "/tmp/x"}, 0, false)
	assert.Equal(t, DefaultInterval, m.interval)
	assert.Equal(t, int64(15), m.gap)
}
