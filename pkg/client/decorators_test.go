package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/types"
)

// flaky fails the first failures calls
type flaky struct {
	failures   int64
	calls      atomic.Int64
	heartbeats atomic.Int64
	err        error
}

func (f *flaky) Report(context.Context, *types.TrainingMetricRecord) error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return nil
}

func (f *flaky) Heartbeat(context.Context, int64) error {
	f.heartbeats.Add(1)
	return nil
}

func testRecord() *types.TrainingMetricRecord {
	return types.NewTrainingMetricRecord(types.DataTypeResourceUsage, `{"cpu_percent":12.5}`, types.DefaultNodeInfo())
}

func noSleep(r *Retrying) *Retrying {
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetryingRecovers(t *testing.T) {
	inner := &flaky{failures: 2, err: errors.New("connection reset")}
	r := noSleep(NewRetrying(inner, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}))

	require.NoError(t, r.Report(context.Background(), testRecord()))
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestRetryingGivesUp(t *testing.T) {
	boom := errors.New("connection refused")
	inner := &flaky{failures: 10, err: boom}
	r := noSleep(NewRetrying(inner, RetryConfig{MaxAttempts: 4}))

	err := r.Report(context.Background(), testRecord())
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 4, inner.calls.Load())
}

func TestRetryingStopsOnFinalErrors(t *testing.T) {
	for _, final := range []error{context.DeadlineExceeded, ErrRateLimited} {
		inner := &flaky{failures: 10, err: final}
		r := noSleep(NewRetrying(inner, DefaultRetryConfig()))

		assert.ErrorIs(t, r.Report(context.Background(), testRecord()), final)
		assert.EqualValues(t, 1, inner.calls.Load())
	}
}

func TestRetryingRespectsContext(t *testing.T) {
	inner := &flaky{failures: 10, err: errors.New("unavailable")}
	r := NewRetrying(inner, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.Error(t, r.Report(ctx, testRecord()))
	assert.Less(t, time.Since(start), time.Second)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestRetryConfigFromConfig(t *testing.T) {
	rc := RetryConfigFromConfig(config.ReporterConfig{MaxAttempts: 7, InitialBackoff: time.Second})
	assert.Equal(t, 7, rc.MaxAttempts)
	assert.Equal(t, time.Second, rc.InitialBackoff)
	assert.Equal(t, 5*time.Second, rc.MaxBackoff)
	assert.Equal(t, 2.0, rc.Multiplier)
}

func TestRateLimited(t *testing.T) {
	inner := &flaky{}
	r := NewRateLimited(inner, 0.001, 2)

	ctx := context.Background()
	assert.NoError(t, r.Report(ctx, testRecord()))
	assert.NoError(t, r.Report(ctx, testRecord()))
	assert.ErrorIs(t, r.Report(ctx, testRecord()), ErrRateLimited)
	assert.EqualValues(t, 2, inner.calls.Load())

	require.NoError(t, r.Heartbeat(ctx, 1))
	assert.EqualValues(t, 1, inner.heartbeats.Load())
}

func TestDecoratorsForwardHeartbeat(t *testing.T) {
	inner := &flaky{}
	chain := NewRateLimited(NewRetrying(inner, DefaultRetryConfig()), 10, 10)

	require.NoError(t, chain.Heartbeat(context.Background(), 1))
	assert.EqualValues(t, 1, inner.heartbeats.Load())
	assert.Same(t, inner, chain.Unwrap().(*Retrying).Unwrap())

	noHeartbeat := NewRetrying(NewLocalStore(0), DefaultRetryConfig())
	assert.NoError(t, noHeartbeat.Heartbeat(context.Background(), 1))
}
