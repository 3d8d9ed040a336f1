package metrics

import (
	"sync"
	"time"
)

// DefaultSampleInterval is how often a Collector samples its Source
const DefaultSampleInterval = 15 * time.Second

// Source exposes the agent state sampled into gauges
type Source interface {
	CollectorCount() int
	CheckpointCounts() map[string]int
}

// Collector samples a Source into the collector and checkpoint gauges: once
// on Start and then every interval.
type Collector struct {
	source   Source
	interval time.Duration

	mu      sync.Mutex
	roles   map[string]struct{}
	started bool
	stopCh  chan struct{}
	done    sync.WaitGroup
	stopped sync.Once
}

// NewCollector creates a stopped collector. An interval <= 0 uses
// DefaultSampleInterval.
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Collector{
		source:   source,
		interval: interval,
		roles:    make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling. Later calls do nothing.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.done.Add(1)
	go c.loop()
}

// Stop ends sampling and waits for an in-flight sample
func (c *Collector) Stop() {
	c.stopped.Do(func() { close(c.stopCh) })
	c.done.Wait()
}

func (c *Collector) loop() {
	defer c.done.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.stopCh:
			return
		}
	}
}

// sample sets every gauge; a role that no longer has checkpoints drops to 0
func (c *Collector) sample() {
	CollectorsRegistered.Set(float64(c.source.CollectorCount()))

	counts := c.source.CheckpointCounts()
	c.mu.Lock()
	defer c.mu.Unlock()
	for role := range c.roles {
		if _, ok := counts[role]; !ok {
			CheckpointsStored.WithLabelValues(role).Set(0)
		}
	}
	for role, n := range counts {
		CheckpointsStored.WithLabelValues(role).Set(float64(n))
		c.roles[role] = struct{}{}
	}
}
