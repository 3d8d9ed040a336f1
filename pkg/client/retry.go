package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/arobust/arobust/pkg/collector"
	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/types"
)

// RetryConfig holds configuration for retry with backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// Multiplier is applied to the backoff after each attempt.
	Multiplier float64

	// Jitter is the fraction of the backoff to randomize (0.0 to 1.0).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// RetryConfigFromConfig builds a RetryConfig from the reporter section
func RetryConfigFromConfig(cfg config.ReporterConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		rc.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		rc.MaxBackoff = cfg.MaxBackoff
	}
	return rc
}

// Retrying retries failed reports with exponential backoff. The whole
// sequence stays within the caller's context, so the collector report
// timeout bounds it.
type Retrying struct {
	inner  collector.Reporter
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps inner
func NewRetrying(inner collector.Reporter, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrying{inner: inner, config: cfg, sleep: sleepCtx}
}

// Report sends rec, retrying retryable failures
func (r *Retrying) Report(ctx context.Context, rec *types.TrainingMetricRecord) error {
	return r.retry(ctx, func() error { return r.inner.Report(ctx, rec) })
}

// Heartbeat forwards to the wrapped client without retrying. It is a no-op
// when the wrapped client has no heartbeat.
func (r *Retrying) Heartbeat(ctx context.Context, timestamp int64) error {
	return forwardHeartbeat(ctx, r.inner, timestamp)
}

// Unwrap returns the wrapped client
func (r *Retrying) Unwrap() collector.Reporter { return r.inner }

func (r *Retrying) retry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = operation()
		if !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * r.config.Jitter * (rand.Float64()*2 - 1))
		wait := backoff + jitter
		if wait < 0 {
			wait = backoff
		}
		if err := r.sleep(ctx, wait); err != nil {
			return lastErr
		}

		backoff = time.Duration(float64(backoff) * r.config.Multiplier)
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}
	return lastErr
}

// IsRetryableError reports whether a reporting error is worth retrying.
// Context errors and rate limiting are final.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrRateLimited)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func forwardHeartbeat(ctx context.Context, inner collector.Reporter, timestamp int64) error {
	hb, ok := inner.(interface {
		Heartbeat(ctx context.Context, timestamp int64) error
	})
	if !ok {
		return nil
	}
	return hb.Heartbeat(ctx, timestamp)
}

var _ collector.Reporter = (*Retrying)(nil)
