package client

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/arobust/arobust/pkg/collector"
	"github.com/arobust/arobust/pkg/types"
)

// ErrRateLimited is returned when the report budget is exhausted
var ErrRateLimited = errors.New("report rate limit exceeded")

// RateLimited drops reports beyond a token-bucket budget
type RateLimited struct {
	inner   collector.Reporter
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond reports per second with bursts of burst
func NewRateLimited(inner collector.Reporter, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Report forwards rec when the budget allows it and fails with ErrRateLimited
// otherwise.
func (r *RateLimited) Report(ctx context.Context, rec *types.TrainingMetricRecord) error {
	if !r.limiter.Allow() {
		return ErrRateLimited
	}
	return r.inner.Report(ctx, rec)
}

// Heartbeat is not rate limited
func (r *RateLimited) Heartbeat(ctx context.Context, timestamp int64) error {
	return forwardHeartbeat(ctx, r.inner, timestamp)
}

// Unwrap returns the wrapped client
func (r *RateLimited) Unwrap() collector.Reporter { return r.inner }

var _ collector.Reporter = (*RateLimited)(nil)
