package collector

import (
	"fmt"
	"time"

	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/log"
)

// Registrar accepts collectors with their collection interval
type Registrar interface {
	RegisterCollector(c Collector, interval time.Duration)
}

// Factory creates the collectors an agent runs.
// It lets tests substitute collectors without touching the agent.
type Factory interface {
	CreateResourceCollector() (Collector, error)
	CreateMetricCollector() Collector
	CreateLogCollector() Collector
	CreateStackCollector() Collector
}

// DefaultFactory creates collectors from configuration
type DefaultFactory struct {
	Config config.CollectorsConfig
	Opts   []Option
}

// NewDefaultFactory creates a factory that tags every collector with the
// node identity and report timeout from cfg, plus opts.
func NewDefaultFactory(cfg *config.Config, opts ...Option) *DefaultFactory {
	base := []Option{
		WithNode(cfg.Node.Info()),
		WithReportTimeout(cfg.ReportTimeout),
	}
	return &DefaultFactory{
		Config: cfg.Collectors,
		Opts:   append(base, opts...),
	}
}

// CreateResourceCollector creates a procfs-backed resource collector
func (f *DefaultFactory) CreateResourceCollector() (Collector, error) {
	rc := f.Config.Resource
	var gpus GPUQuerier
	if rc.NvidiaSMI != "" {
		gpus = &NvidiaSMI{Path: rc.NvidiaSMI}
	}
	sampler, err := NewProcSampler(rc.ProcPath, gpus)
	if err != nil {
		return nil, err
	}
	return NewResourceCollector(sampler, f.Opts...), nil
}

// CreateMetricCollector creates the accelerator timer metric collector
func (f *DefaultFactory) CreateMetricCollector() Collector {
	return NewMetricCollector(f.Config.Metric.XPUTimerPort, f.Opts...)
}

// CreateLogCollector creates the training log collector
func (f *DefaultFactory) CreateLogCollector() Collector {
	return NewLogCollector(f.Config.Log.Path, f.Config.Log.MaxLines, f.Opts...)
}

// CreateStackCollector creates a stack collector, running the configured
// dumper command when one is set and dumping the agent's own goroutines
// otherwise.
func (f *DefaultFactory) CreateStackCollector() Collector {
	sc := f.Config.Stack
	if len(sc.Command) > 0 {
		return NewStackCollector(&CommandSource{Command: sc.Command, Timeout: sc.Timeout}, f.Opts...)
	}
	return NewStackCollector(nil, f.Opts...)
}

// RegisterDefaults creates every enabled collector and registers it on r.
// The log collector is only created when a log path is configured and the
// stack collector only when it has a command or Self is set. Nothing is
// registered if any collector fails to build.
func RegisterDefaults(f Factory, cfg config.CollectorsConfig, r Registrar) ([]Collector, error) {
	type pending struct {
		c        Collector
		interval time.Duration
	}
	var all []pending

	if cfg.Resource.Enabled {
		c, err := f.CreateResourceCollector()
		if err != nil {
			return nil, fmt.Errorf("failed to create resource collector: %w", err)
		}
		all = append(all, pending{c, cfg.Resource.Interval})
	}
	if cfg.Metric.Enabled {
		all = append(all, pending{f.CreateMetricCollector(), cfg.Metric.Interval})
	}
	if cfg.Log.Enabled && cfg.Log.Path != "" {
		all = append(all, pending{f.CreateLogCollector(), cfg.Log.Interval})
	}
	if cfg.Stack.Enabled {
		if len(cfg.Stack.Command) > 0 || cfg.Stack.Self {
			all = append(all, pending{f.CreateStackCollector(), cfg.Stack.Interval})
		} else {
			logger := log.WithComponent("collector")
			logger.Warn().
				Msg("stack collector enabled without a command, skipping; set collectors.stack.command to dump the training process")
		}
	}

	created := make([]Collector, 0, len(all))
	for _, p := range all {
		r.RegisterCollector(p.c, p.interval)
		created = append(created, p.c)
	}
	return created, nil
}
