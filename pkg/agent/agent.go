package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arobust/arobust/pkg/api"
	"github.com/arobust/arobust/pkg/checkpoint"
	"github.com/arobust/arobust/pkg/client"
	"github.com/arobust/arobust/pkg/collector"
	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/diagnosis"
	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
	"github.com/arobust/arobust/pkg/monitor"
	"github.com/arobust/arobust/pkg/scheduler"
	"github.com/arobust/arobust/pkg/types"
)

const shutdownTimeout = 10 * time.Second

// Option configures an Agent
type Option func(*Agent)

// WithEngine uses e instead of the process-wide shared engine
func WithEngine(e *diagnosis.Engine) Option {
	return func(a *Agent) { a.engine = e }
}

// WithFactory replaces the collector factory
func WithFactory(f collector.Factory) Option {
	return func(a *Agent) { a.factory = f }
}

// WithReporter replaces the reporting client chosen from configuration
func WithReporter(r collector.Reporter) Option {
	return func(a *Agent) { a.reporter = r }
}

// WithBroker uses b for agent events instead of a private broker
func WithBroker(b *events.Broker) Option {
	return func(a *Agent) { a.broker = b }
}

// WithLogger replaces the agent logger
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// Agent runs on one training node: it collects diagnostic data, reports it,
// answers diagnosis requests and owns the node's checkpoint store.
type Agent struct {
	cfg *config.Config

	engine     *diagnosis.Engine
	factory    collector.Factory
	reporter   collector.Reporter
	closer     io.Closer
	collectors []collector.Collector
	store      *checkpoint.Store
	monitor    *monitor.TrainingMonitor
	stats      *metrics.Collector
	api        *api.Server

	broker     *events.Broker
	ownsBroker bool
	logger     zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// New wires an agent from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:    cfg,
		logger: log.WithComponent("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.broker == nil {
		a.broker = events.NewBroker()
		a.ownsBroker = true
	}

	if a.engine == nil {
		e, err := diagnosis.Shared(a.buildEngine)
		if err != nil {
			return nil, fmt.Errorf("failed to create diagnosis engine: %w", err)
		}
		a.engine = e
	}

	if a.reporter == nil {
		r, closer, err := newReporter(cfg)
		if err != nil {
			return nil, err
		}
		a.reporter, a.closer = r, closer
	}
	a.engine.SetClient(a.reporter)

	if cfg.Checkpoint.Root != "" {
		store, err := checkpoint.Open(cfg.Checkpoint.Root, checkpoint.WithBroker(a.broker))
		if err != nil {
			a.closeReporter()
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		a.store = store
	}

	// The shared engine outlives a single agent; collectors registered by an
	// earlier agent keep running on it and are adopted rather than duplicated.
	if existing := a.engine.Collectors(); len(existing) > 0 {
		a.logger.Debug().Int("collectors", len(existing)).Msg("engine already has collectors, reusing them")
		a.collectors = existing
	} else {
		if a.factory == nil {
			a.factory = collector.NewDefaultFactory(cfg, collector.WithBroker(a.broker))
		}
		created, err := collector.RegisterDefaults(a.factory, cfg.Collectors, a.engine)
		if err != nil {
			if a.store != nil {
				a.store.Close()
			}
			a.closeReporter()
			return nil, err
		}
		a.collectors = created
	}
	a.engine.UpdateConfig(diagnosis.Info{LogFile: cfg.Collectors.Log.Path, NodeRank: cfg.Node.Rank})

	a.monitor = monitor.NewTrainingMonitor(cfg.Monitor, cfg.Node.Rank, cfg.MonitorEnabled, monitor.WithBroker(a.broker))
	a.stats = metrics.NewCollector(a, metrics.DefaultSampleInterval)
	a.api = api.NewServer(a.engine, api.WithSource(a))

	a.logger.Info().
		Int("node_id", cfg.Node.ID).
		Int("node_rank", cfg.Node.Rank).
		Int("collectors", len(a.collectors)).
		Bool("remote", cfg.RemoteAddr != "").
		Bool("checkpoints", a.store != nil).
		Msg("agent created")
	return a, nil
}

func (a *Agent) buildEngine() (*diagnosis.Engine, error) {
	policy, err := diagnosis.PolicyFromConfig(a.cfg.Diagnosis)
	if err != nil {
		return nil, err
	}
	sched := scheduler.NewScheduler(
		scheduler.WithMinInterval(a.cfg.Collectors.MinInterval),
		scheduler.WithBroker(a.broker),
	)
	return diagnosis.NewEngine(policy,
		diagnosis.WithScheduler(sched),
		diagnosis.WithBroker(a.broker),
		diagnosis.WithHeartbeatInterval(a.cfg.HeartbeatInterval),
	)
}

// newReporter picks the reporting client: the master over gRPC when an
// address is configured, in-memory retention otherwise.
func newReporter(cfg *config.Config) (collector.Reporter, io.Closer, error) {
	if cfg.RemoteAddr == "" {
		return client.NewLocalStore(cfg.Reporter.LocalRetention), nil, nil
	}

	opts := []client.Option{client.WithNode(cfg.Node.Info())}
	if cfg.RemoteCAFile != "" {
		creds, err := client.TLSDialOption(cfg.RemoteCAFile)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, client.WithDialOptions(creds))
	}
	g, err := client.NewGRPCReporter(cfg.RemoteAddr, opts...)
	if err != nil {
		return nil, nil, err
	}

	var r collector.Reporter = g
	if cfg.Reporter.Retry {
		r = client.NewRetrying(r, client.RetryConfigFromConfig(cfg.Reporter))
	}
	if cfg.Reporter.RateLimit > 0 {
		r = client.NewRateLimited(r, cfg.Reporter.RateLimit, cfg.Reporter.RateBurst)
	}
	return r, g, nil
}

// Start starts event delivery, collection, heartbeats, the training monitor
// and the stats loop. It does not serve the API; see Run.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return errors.New("agent is stopped")
	}
	if a.started {
		return nil
	}
	a.started = true

	if a.ownsBroker {
		a.broker.Start()
	}
	a.engine.Start()
	a.monitor.Start()
	a.stats.Start()

	a.logger.Info().Msg("agent started")
	return nil
}

// Stop stops everything Start started and releases the checkpoint store and
// the master connection. Idempotent.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true

	var errs []error
	if a.started {
		a.stats.Stop()
		a.monitor.Stop()
		a.engine.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close checkpoint store: %w", err))
		}
	}
	if err := a.closeReporter(); err != nil {
		errs = append(errs, err)
	}
	if a.started && a.ownsBroker {
		a.broker.Stop()
	}

	a.logger.Info().Msg("agent stopped")
	return errors.Join(errs...)
}

// Run starts the agent, serves the API on the configured address and blocks
// until ctx is done or the server fails, then stops everything.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Stop()

	if a.cfg.MetricsAddr == "" {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.api.ListenAndServe(a.cfg.MetricsAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.api.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *Agent) closeReporter() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	if err != nil {
		return fmt.Errorf("failed to close reporter: %w", err)
	}
	return nil
}

// Checkpoint returns the manager of role with the configured policy
func (a *Agent) Checkpoint(role types.Role) (*checkpoint.Manager, error) {
	if a.store == nil {
		return nil, errors.New("checkpoint root is not configured")
	}
	return a.store.Manager(role, checkpoint.PolicyFromConfig(a.cfg.Checkpoint, role))
}

// Diagnose decides the recovery action for failures
func (a *Agent) Diagnose(failures map[string]string, restartCount int) types.DiagnosisAction {
	return a.engine.Diagnose(failures, restartCount)
}

// CollectorCount returns the number of collectors registered on the engine
func (a *Agent) CollectorCount() int { return a.engine.CollectorCount() }

// CheckpointCounts returns the number of stored checkpoints per role
func (a *Agent) CheckpointCounts() map[string]int {
	if a.store == nil {
		return map[string]int{}
	}
	return a.store.CheckpointCounts()
}

func (a *Agent) Engine() *diagnosis.Engine         { return a.engine }
func (a *Agent) Reporter() collector.Reporter      { return a.reporter }
func (a *Agent) Collectors() []collector.Collector { return a.collectors }
func (a *Agent) Store() *checkpoint.Store          { return a.store }
func (a *Agent) Monitor() *monitor.TrainingMonitor { return a.monitor }
func (a *Agent) API() *api.Server                  { return a.api }
func (a *Agent) Broker() *events.Broker            { return a.broker }

var _ metrics.Source = (*Agent)(nil)
