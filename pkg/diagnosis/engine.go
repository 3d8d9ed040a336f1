package diagnosis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/collector"
	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/health"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
	"github.com/arobust/arobust/pkg/scheduler"
	"github.com/arobust/arobust/pkg/types"
)

// DefaultHeartbeatInterval is how often a heartbeat-capable client is pinged
const DefaultHeartbeatInterval = 30 * time.Second

const heartbeatTimeout = 5 * time.Second

// HeartbeatReporter is implemented by clients that accept liveness pings
type HeartbeatReporter interface {
	Heartbeat(ctx context.Context, timestamp int64) error
}

// Info is descriptive metadata about the training job, kept for logging
type Info struct {
	LogFile  string
	Errors   string
	NodeRank int
}

// Option configures an Engine
type Option func(*Engine)

// WithScheduler replaces the engine's scheduler
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithBroker publishes decisions on the broker
func WithBroker(b *events.Broker) Option {
	return func(e *Engine) { e.broker = b }
}

// WithLogger replaces the engine logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHeartbeatInterval overrides DefaultHeartbeatInterval
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.heartbeatInterval = d
		}
	}
}

type registered struct {
	collector collector.Collector
	interval  time.Duration
}

// Engine owns the collector registry, the reporting client and the decision
// policy of one agent.
type Engine struct {
	mu         sync.Mutex
	collectors []registered
	client     collector.Reporter
	info       Info

	policy    *Policy
	scheduler *scheduler.Scheduler
	broker    *events.Broker
	logger    zerolog.Logger

	heartbeatInterval time.Duration
	heartbeats        *health.Tracker
	lifecycleMu       sync.Mutex
	stopCh            chan struct{}
	wg                sync.WaitGroup
}

// NewEngine creates an engine deciding with policy
func NewEngine(policy *Policy, opts ...Option) (*Engine, error) {
	if policy == nil {
		return nil, errors.New("diagnosis engine requires a policy")
	}
	e := &Engine{
		policy:            policy,
		logger:            log.WithComponent("diagnosis"),
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeats:        health.NewTracker(health.DefaultThreshold),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scheduler == nil {
		e.scheduler = scheduler.NewScheduler(scheduler.WithBroker(e.broker))
	}
	return e, nil
}

// Policy returns the engine's decision policy
func (e *Engine) Policy() *Policy { return e.policy }

// RegisterCollector adds c to the registry and schedules it. If a client is
// already set it is handed to c before the engine lock is released, so c can
// never miss a SetClient.
func (e *Engine) RegisterCollector(c collector.Collector, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.collectors = append(e.collectors, registered{collector: c, interval: interval})
	if e.client != nil {
		if setter, ok := c.(collector.ClientSetter); ok {
			setter.SetClient(e.client)
		}
	}
	e.scheduler.Register(c, interval)
	metrics.CollectorsRegistered.Set(float64(len(e.collectors)))

	e.logger.Info().
		Str("collector", c.Name()).
		Str("data_type", string(c.DataType())).
		Dur("interval", interval).
		Msg("collector registered")
}

// SetClient stores r and hands it to every registered collector that accepts
// a client. Collectors without SetClient are skipped.
func (e *Engine) SetClient(r collector.Reporter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.client = r
	n := 0
	for _, reg := range e.collectors {
		if setter, ok := reg.collector.(collector.ClientSetter); ok {
			setter.SetClient(r)
			n++
		}
	}
	e.logger.Info().Int("collectors", n).Msg("reporting client set")
}

// Client returns the current reporting client, or nil
func (e *Engine) Client() collector.Reporter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// Collectors returns the registered collectors in registration order
func (e *Engine) Collectors() []collector.Collector {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]collector.Collector, len(e.collectors))
	for i, reg := range e.collectors {
		out[i] = reg.collector
	}
	return out
}

// CollectorCount returns the number of registered collectors
func (e *Engine) CollectorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.collectors)
}

// UpdateConfig records descriptive information about the training job
func (e *Engine) UpdateConfig(info Info) {
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()

	e.logger.Info().
		Str("log_file", info.LogFile).
		Str("errors", info.Errors).
		Int("node_rank", info.NodeRank).
		Msg("diagnosis configuration updated")
}

// Info returns the metadata last set by UpdateConfig
func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// Diagnose decides the recovery action for the given failures. It performs no
// I/O beyond logging and never fails.
func (e *Engine) Diagnose(failures map[string]string, restartCount int) types.DiagnosisAction {
	action := e.policy.Evaluate(failures, restartCount)

	metrics.DiagnosisActionsTotal.WithLabelValues(string(action.Type)).Inc()
	e.logger.Info().
		Str("action", string(action.Type)).
		Str("rule", action.Parameters["rule"]).
		Int("restart_count", restartCount).
		Int("failures", len(failures)).
		Msg("diagnosis decided")

	metadata := map[string]string{"action": string(action.Type)}
	for k, v := range action.Parameters {
		metadata[k] = v
	}
	e.broker.Publish(events.NewEvent(events.EventDiagnosisDecided, action.String(), metadata))

	return action
}

// Start starts periodic collection and the heartbeat loop. Idempotent.
func (e *Engine) Start() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.stopCh != nil {
		return
	}
	e.stopCh = make(chan struct{})
	e.scheduler.Start()

	e.wg.Add(1)
	go e.heartbeatLoop(e.stopCh)

	metrics.SetComponent(metrics.ComponentEngine, true, "running")
	e.logger.Info().Msg("diagnosis engine started")
}

// Stop stops collection and heartbeats. Idempotent.
func (e *Engine) Stop() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.stopCh == nil {
		return
	}
	close(e.stopCh)
	e.stopCh = nil
	e.scheduler.Stop()
	e.wg.Wait()

	metrics.SetComponent(metrics.ComponentEngine, false, "stopped")
	e.logger.Info().Msg("diagnosis engine stopped")
}

func (e *Engine) heartbeatLoop(stopCh <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sendHeartbeat()
		case <-stopCh:
			return
		}
	}
}

func (e *Engine) sendHeartbeat() {
	hb, ok := e.Client().(HeartbeatReporter)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
	defer cancel()

	start := time.Now()
	err := hb.Heartbeat(ctx, start.Unix())
	up, changed := e.heartbeats.Record(health.Observe(start, err, "heartbeat sent"))

	if err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		e.logger.Warn().Err(err).Msg("heartbeat failed")
	} else {
		metrics.HeartbeatsTotal.WithLabelValues("success").Inc()
	}
	if !changed {
		return
	}
	if up {
		e.logger.Info().Msg("master reachable again")
		metrics.SetComponent(metrics.ComponentReporter, true, "")
		return
	}
	e.logger.Error().Int("failures", e.heartbeats.Failures()).Msg("master unreachable")
	metrics.SetComponent(metrics.ComponentReporter, false, e.heartbeats.Last().Detail)
}
