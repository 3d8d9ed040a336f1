package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/collector"
	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
)

const (
	// DefaultGracePeriod is how long Stop waits for in-flight ticks
	DefaultGracePeriod = 5 * time.Second

	// DefaultMinInterval is the smallest accepted collection interval
	DefaultMinInterval = time.Second
)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithGracePeriod overrides DefaultGracePeriod
func WithGracePeriod(d time.Duration) Option {
	return func(s *Scheduler) { s.gracePeriod = d }
}

// WithMinInterval overrides DefaultMinInterval
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minInterval = d
		}
	}
}

// WithLogger replaces the scheduler logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithBroker publishes collection failures on the broker
func WithBroker(b *events.Broker) Option {
	return func(s *Scheduler) { s.broker = b }
}

type entry struct {
	collector collector.Collector
	interval  time.Duration
}

// run is one Start/Stop generation. Loops capture the run they were started
// in, so a later Start never revives loops of a stopped run.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// gate orders tick admission against Stop: once stopped is set under the
	// write lock, no tick can be admitted.
	gate    sync.RWMutex
	stopped bool
}

// Scheduler runs each registered collector on its own interval
type Scheduler struct {
	mu          sync.Mutex
	entries     []*entry
	current     *run
	gracePeriod time.Duration
	minInterval time.Duration
	logger      zerolog.Logger
	broker      *events.Broker
}

// NewScheduler creates a stopped scheduler
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		gracePeriod: DefaultGracePeriod,
		minInterval: DefaultMinInterval,
		logger:      log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a collector. Intervals below the minimum are clamped. A
// collector registered while running starts immediately.
func (s *Scheduler) Register(c collector.Collector, interval time.Duration) {
	if interval < s.minInterval {
		s.logger.Warn().
			Str("collector", c.Name()).
			Dur("interval", interval).
			Dur("min_interval", s.minInterval).
			Msg("collection interval below minimum, clamping")
		interval = s.minInterval
	}

	e := &entry{collector: c, interval: interval}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if s.current != nil {
		s.launch(s.current, e)
	}
}

// Len returns the number of registered collectors
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Running reports whether the scheduler is started
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Start launches one loop per registered collector. Calling Start on a
// running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: ctx, cancel: cancel}
	s.current = r
	for _, e := range s.entries {
		s.launch(r, e)
	}
	s.logger.Info().Int("collectors", len(s.entries)).Msg("scheduler started")
}

// Stop cancels all loops and waits up to the grace period for in-flight
// ticks. No tick starts after Stop returns. Safe to call repeatedly and from
// any goroutine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r == nil {
		return
	}

	r.gate.Lock()
	r.stopped = true
	r.gate.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
	case <-time.After(s.gracePeriod):
		s.logger.Warn().Dur("grace_period", s.gracePeriod).Msg("scheduler stopped with ticks still in flight")
	}
}

func (s *Scheduler) launch(r *run, e *entry) {
	r.wg.Add(1)
	go s.loop(r, e)
}

func (s *Scheduler) loop(r *run, e *entry) {
	defer r.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	name := e.collector.Name()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if !s.admit(r) {
				return
			}
			start := time.Now()
			s.tick(r.ctx, e)

			// An overrunning tick skips the tick the ticker buffered meanwhile
			if time.Since(start) >= e.interval {
				select {
				case <-ticker.C:
					metrics.SchedulerTicksSkipped.WithLabelValues(name).Inc()
					s.logger.Debug().Str("collector", name).Msg("tick overran interval, skipping next tick")
				default:
				}
			}
		}
	}
}

func (s *Scheduler) admit(r *run) bool {
	r.gate.RLock()
	defer r.gate.RUnlock()
	return !r.stopped
}

// tick runs one collection. Panics and errors are contained here.
func (s *Scheduler) tick(ctx context.Context, e *entry) {
	c := e.collector
	name := c.Name()

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Str("collector", name).Str("panic", fmt.Sprint(p)).Msg("collector panicked")
			metrics.CollectErrorsTotal.WithLabelValues(name).Inc()
		}
	}()

	metrics.SchedulerTicksTotal.WithLabelValues(name).Inc()

	if !c.IsEnabled() {
		s.logger.Debug().Str("collector", name).Msg("collector disabled, skipping tick")
		return
	}

	timer := metrics.NewTimer()
	p, err := c.Collect(ctx)
	timer.ObserveDurationVec(metrics.CollectDuration, name)
	if err != nil {
		s.logger.Warn().Err(err).Str("collector", name).Msg("collection failed")
		metrics.CollectErrorsTotal.WithLabelValues(name).Inc()
		s.broker.Publish(events.NewEvent(events.EventCollectFailed, err.Error(), map[string]string{
			"collector": name,
		}))
		return
	}
	if p.IsEmpty() {
		return
	}
	c.Store(ctx, p)
}
