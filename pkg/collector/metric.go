package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arobust/arobust/pkg/health"
	"github.com/arobust/arobust/pkg/types"
)

const (
	metricFetchTimeout = 5 * time.Second
	metricProbeTimeout = 200 * time.Millisecond
)

// MetricCollector scrapes the accelerator timer exporter running next to the
// training process.
type MetricCollector struct {
	Base

	port       int
	endpoint   string
	httpClient *http.Client
	probe      health.Prober
}

// NewMetricCollector creates a collector for the exporter on 127.0.0.1:port.
// A port <= 0 disables the collector.
func NewMetricCollector(port int, opts ...Option) *MetricCollector {
	c := &MetricCollector{
		port:       port,
		httpClient: &http.Client{Timeout: metricFetchTimeout},
	}
	if port > 0 {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		c.endpoint = "http://" + addr + "/metrics"
		c.probe = health.NewPortProbe(addr, metricProbeTimeout)
	}
	c.Base.init("metric", types.DataTypeXPUTimerMetric, opts...)
	return c
}

// Endpoint returns the scraped URL, or "" when disabled
func (c *MetricCollector) Endpoint() string { return c.endpoint }

// IsEnabled reports whether a port is configured and the exporter accepts connections
func (c *MetricCollector) IsEnabled() bool {
	if c.probe == nil {
		return false
	}
	return c.probe.Probe(context.Background()).OK
}

// Collect fetches and filters the exporter output
func (c *MetricCollector) Collect(ctx context.Context) (Payload, error) {
	if c.endpoint == "" {
		return Empty(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Empty(), collectionError(c.name, "unexpected status %d from %s", resp.StatusCode, c.endpoint)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}

	return NewPayload(PreprocessMetrics(string(body))), nil
}

// PreprocessMetrics drops comment lines and exporter self-metrics
func PreprocessMetrics(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "exposer") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

var (
	_ Collector    = (*MetricCollector)(nil)
	_ ClientSetter = (*MetricCollector)(nil)
)
