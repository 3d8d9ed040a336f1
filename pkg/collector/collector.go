package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
	"github.com/arobust/arobust/pkg/types"
)

// DefaultReportTimeout bounds a single hand-off to the reporting client
const DefaultReportTimeout = 5 * time.Second

var (
	// ErrCollection is matched by every *CollectionError
	ErrCollection = errors.New("collection failed")

	// ErrReport is matched by every *ReportError
	ErrReport = errors.New("report failed")
)

// Reporter ships diagnostic records to the remote node
type Reporter interface {
	Report(ctx context.Context, rec *types.TrainingMetricRecord) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(ctx context.Context, rec *types.TrainingMetricRecord) error

func (f ReporterFunc) Report(ctx context.Context, rec *types.TrainingMetricRecord) error {
	return f(ctx, rec)
}

// Collector gathers one kind of diagnostic data
type Collector interface {
	Name() string
	DataType() types.DiagnosisDataType

	// IsEnabled reports whether the data source is currently available.
	// It must return quickly and never panic.
	IsEnabled() bool

	// Collect samples the data source. An empty payload means nothing new.
	Collect(ctx context.Context) (Payload, error)

	// Store wraps the payload into a record and hands it to the reporting
	// client. Failures are logged and dropped.
	Store(ctx context.Context, p Payload)
}

// ClientSetter is implemented by collectors that accept a reporting client
type ClientSetter interface {
	SetClient(r Reporter)
}

// Payload is the result of a collection: either content or nothing
type Payload struct {
	content string
	ok      bool
}

// NewPayload wraps content; empty content yields an empty payload
func NewPayload(content string) Payload {
	return Payload{content: content, ok: content != ""}
}

// Empty returns a payload that carries nothing
func Empty() Payload {
	return Payload{}
}

func (p Payload) IsEmpty() bool   { return !p.ok }
func (p Payload) Content() string { return p.content }

// CollectionError reports an environment fault while collecting
type CollectionError struct {
	Collector string
	Err       error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collector %s: %v", e.Collector, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

func (e *CollectionError) Is(target error) bool { return target == ErrCollection }

// ReportError reports a failed hand-off to the reporting client
type ReportError struct {
	Collector string
	DataType  types.DiagnosisDataType
	Err       error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("report %s from collector %s: %v", e.DataType, e.Collector, e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

func (e *ReportError) Is(target error) bool { return target == ErrReport }

func collectionError(name string, format string, args ...any) error {
	return &CollectionError{Collector: name, Err: fmt.Errorf(format, args...)}
}

// Option configures the shared part of a collector
type Option func(*Base)

// WithNode tags records with the given node identity
func WithNode(node types.NodeInfo) Option {
	return func(b *Base) { b.node = node }
}

// WithReportTimeout overrides DefaultReportTimeout
func WithReportTimeout(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.reportTimeout = d
		}
	}
}

// WithLogger replaces the collector logger
func WithLogger(l zerolog.Logger) Option {
	return func(b *Base) {
		b.logger = l
		b.customLogger = true
	}
}

// WithClient sets the initial reporting client
func WithClient(r Reporter) Option {
	return func(b *Base) { b.SetClient(r) }
}

// WithBroker publishes report failures on the broker
func WithBroker(broker *events.Broker) Option {
	return func(b *Base) { b.broker = broker }
}

type clientHandle struct {
	r Reporter
}

// Base carries what every collector shares: identity, the reporting client
// handle and the Store implementation. Variants embed it and implement
// IsEnabled and Collect.
type Base struct {
	name          string
	dataType      types.DiagnosisDataType
	node          types.NodeInfo
	reportTimeout time.Duration
	client        atomic.Pointer[clientHandle]
	warnedUnset   atomic.Bool
	logger        zerolog.Logger
	customLogger  bool
	broker        *events.Broker
}

func (b *Base) init(name string, dataType types.DiagnosisDataType, opts ...Option) {
	b.name = name
	b.dataType = dataType
	b.node = types.DefaultNodeInfo()
	b.reportTimeout = DefaultReportTimeout
	for _, opt := range opts {
		opt(b)
	}
	if !b.customLogger {
		b.logger = log.WithCollector(name, string(dataType))
	}
}

func (b *Base) Name() string                      { return b.name }
func (b *Base) DataType() types.DiagnosisDataType { return b.dataType }

// SetClient atomically swaps the reporting client. A nil client detaches it.
func (b *Base) SetClient(r Reporter) {
	if r == nil {
		b.client.Store(nil)
		return
	}
	b.client.Store(&clientHandle{r: r})
	b.warnedUnset.Store(false)
}

// Client returns the current reporting client, or nil
func (b *Base) Client() Reporter {
	if h := b.client.Load(); h != nil {
		return h.r
	}
	return nil
}

// Store reports p through the client current at the time of the call
func (b *Base) Store(ctx context.Context, p Payload) {
	if p.IsEmpty() {
		return
	}

	h := b.client.Load()
	if h == nil {
		if b.warnedUnset.CompareAndSwap(false, true) {
			b.logger.Warn().Msg("reporting client not set, data not reported")
		}
		metrics.ReportsTotal.WithLabelValues(string(b.dataType), "no_client").Inc()
		return
	}

	rec := types.NewTrainingMetricRecord(b.dataType, p.Content(), b.node)
	if err := b.report(ctx, h.r, rec); err != nil {
		b.logger.Error().Err(err).Int("bytes", len(rec.Content())).Msg("failed to report diagnosis data")
		metrics.ReportsTotal.WithLabelValues(string(b.dataType), "error").Inc()
		b.broker.Publish(events.NewEvent(events.EventReportFailed, err.Error(), map[string]string{
			"collector": b.name,
			"data_type": string(b.dataType),
		}))
		return
	}

	metrics.ReportsTotal.WithLabelValues(string(b.dataType), "success").Inc()
	b.logger.Debug().Int("bytes", len(rec.Content())).Msg("reported diagnosis data")
}

// report runs the client call under the report timeout. The call runs on its
// own goroutine so a client that ignores ctx cannot hold up the caller.
func (b *Base) report(ctx context.Context, r Reporter, rec *types.TrainingMetricRecord) error {
	ctx, cancel := context.WithTimeout(ctx, b.reportTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReportDuration, string(b.dataType))

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("reporting client panicked: %v", p)
			}
		}()
		errCh <- r.Report(ctx, rec)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return &ReportError{Collector: b.name, DataType: b.dataType, Err: err}
	}
	return nil
}
