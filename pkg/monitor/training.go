package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
)

// Defaults for the monitor loop
const (
	DefaultInterval  = 15 * time.Second
	DefaultReportGap = 15 * time.Second
)

// TrainingMetrics is the progress file written by the training loop
type TrainingMetrics struct {
	Step      int64 `json:"step"`
	Timestamp int64 `json:"timestamp"`
}

// WriteTrainingMetrics atomically replaces the progress file at path. A zero
// timestamp means now.
func WriteTrainingMetrics(path string, step, timestamp int64) error {
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(TrainingMetrics{Step: step, Timestamp: timestamp})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".training_metrics-*")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace metrics file: %w", err)
	}
	return nil
}

// ReadTrainingMetrics reads the progress file at path
func ReadTrainingMetrics(path string) (TrainingMetrics, error) {
	var m TrainingMetrics
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode training metrics: %w", err)
	}
	return m, nil
}

// Option configures a TrainingMonitor
type Option func(*TrainingMonitor)

// WithBroker publishes step reports on the broker
func WithBroker(b *events.Broker) Option {
	return func(m *TrainingMonitor) { m.broker = b }
}

// WithLogger replaces the monitor logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *TrainingMonitor) { m.logger = l }
}

// TrainingMonitor follows the progress file of the training loop and records
// the global step. Only the rank 0 node reports.
type TrainingMonitor struct {
	path     string
	interval time.Duration
	gap      int64
	rank     int
	enabled  bool

	mu            sync.Mutex
	lastTimestamp int64
	lastStep      int64

	broker *events.Broker
	logger zerolog.Logger

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewTrainingMonitor creates a monitor for the node of the given rank.
// Start does nothing unless enabled.
func NewTrainingMonitor(cfg config.MonitorConfig, rank int, enabled bool, opts ...Option) *TrainingMonitor {
	m := &TrainingMonitor{
		path:     cfg.MetricsPath,
		interval: cfg.Interval,
		gap:      int64(cfg.ReportGap / time.Second),
		rank:     rank,
		enabled:  enabled,
		logger:   log.WithComponent("monitor"),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if cfg.ReportGap <= 0 {
		m.gap = int64(DefaultReportGap / time.Second)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start removes a stale progress file and starts the report loop
func (m *TrainingMonitor) Start() {
	if !m.enabled {
		m.logger.Info().Msg("training monitor disabled, not starting")
		return
	}

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.stopCh != nil {
		return
	}

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("failed to remove old metrics file")
	}

	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.loop(m.stopCh)

	m.logger.Info().
		Str("path", m.path).
		Dur("interval", m.interval).
		Int("rank", m.rank).
		Msg("training monitor started")
}

// Stop stops the report loop. Idempotent.
func (m *TrainingMonitor) Stop() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	m.stopCh = nil
	m.wg.Wait()
}

func (m *TrainingMonitor) loop(stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ReportStep()
		case <-stopCh:
			return
		}
	}
}

// ReportStep reads the progress file and records the step when it is
// positive and its timestamp moved past the report gap. It returns whether a
// step was recorded.
func (m *TrainingMonitor) ReportStep() bool {
	if m.rank != 0 {
		return false
	}

	tm, err := ReadTrainingMetrics(m.path)
	if os.IsNotExist(err) {
		return false
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to read training metrics")
		return false
	}

	m.mu.Lock()
	if tm.Step <= 0 || tm.Timestamp-m.lastTimestamp <= m.gap {
		m.mu.Unlock()
		return false
	}
	m.lastTimestamp = tm.Timestamp
	m.lastStep = tm.Step
	m.mu.Unlock()

	metrics.TrainingGlobalStep.Set(float64(tm.Step))
	m.logger.Debug().Int64("step", tm.Step).Int64("timestamp", tm.Timestamp).Msg("global step reported")
	m.broker.Publish(events.NewEvent(events.EventTrainingStepReport, "global step reported", map[string]string{
		"step":      strconv.FormatInt(tm.Step, 10),
		"timestamp": strconv.FormatInt(tm.Timestamp, 10),
	}))
	return true
}

// LastStep returns the last recorded step and its timestamp
func (m *TrainingMonitor) LastStep() (step, timestamp int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStep, m.lastTimestamp
}
