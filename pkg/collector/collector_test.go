package collector

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/types"
)

// recordingReporter keeps every record it receives
type recordingReporter struct {
	mu      sync.Mutex
	records []*types.TrainingMetricRecord
	err     error
}

func (r *recordingReporter) Report(_ context.Context, rec *types.TrainingMetricRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *recordingReporter) Records() []*types.TrainingMetricRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.TrainingMetricRecord(nil), r.records...)
}

// staticCollector returns a fixed payload
type staticCollector struct {
	Base
	content string
}

func newStatic(content string, opts ...Option) *staticCollector {
	c := &staticCollector{content: content}
	c.Base.init("static", types.DataTypeTrainingLog, opts...)
	return c
}

func (c *staticCollector) IsEnabled() bool { return true }
func (c *staticCollector) Collect(context.Context) (Payload, error) {
	return NewPayload(c.content), nil
}

func bufferLogger(buf *bytes.Buffer) zerolog.Logger {
	return zerolog.New(buf).Level(zerolog.DebugLevel)
}

func logLines(buf *bytes.Buffer) []string {
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestPayload(t *testing.T) {
	assert.True(t, Empty().IsEmpty())
	assert.True(t, NewPayload("").IsEmpty())

	p := NewPayload("data")
	assert.False(t, p.IsEmpty())
	assert.Equal(t, "data", p.Content())
}

func TestStoreWithoutClientLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	c := newStatic("x", WithLogger(bufferLogger(&buf)))

	assert.NotPanics(t, func() {
		c.Store(context.Background(), NewPayload("step 1"))
		c.Store(context.Background(), NewPayload("step 2"))
	})

	lines := logLines(&buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"level":"warn"`)
	assert.Contains(t, lines[0], "not reported")
}

func TestStoreEmptyPayloadDoesNothing(t *testing.T) {
	var buf bytes.Buffer
	r := &recordingReporter{}
	c := newStatic("x", WithLogger(bufferLogger(&buf)), WithClient(r))

	c.Store(context.Background(), Empty())

	assert.Empty(t, r.Records())
	assert.Empty(t, buf.String())
}

func TestStoreReportsRecord(t *testing.T) {
	r := &recordingReporter{}
	node := types.NodeInfo{ID: 2, Type: "worker", Rank: 5}
	c := newStatic("x", WithClient(r), WithNode(node), WithLogger(zerolog.Nop()))

	c.Store(context.Background(), NewPayload("loss=0.1"))

	recs := r.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, types.DataTypeTrainingLog, recs[0].DataType())
	assert.Equal(t, "loss=0.1", recs[0].Content())
	assert.Equal(t, node, recs[0].Node())
}

func TestStoreWithFailingClientLogsError(t *testing.T) {
	var buf bytes.Buffer
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	r := &recordingReporter{err: errors.New("connection refused")}
	c := newStatic("x", WithClient(r), WithLogger(bufferLogger(&buf)), WithBroker(broker))

	assert.NotPanics(t, func() { c.Store(context.Background(), NewPayload("data")) })

	lines := logLines(&buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"level":"error"`)
	assert.Contains(t, lines[0], "connection refused")
	assert.Len(t, r.Records(), 1, "no retry within a call")

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.EventReportFailed, ev.Type)
		assert.Equal(t, "static", ev.Metadata["collector"])
	case <-time.After(time.Second):
		t.Fatal("report failure not published")
	}
}

func TestStoreWithPanickingClient(t *testing.T) {
	var buf bytes.Buffer
	panicky := ReporterFunc(func(context.Context, *types.TrainingMetricRecord) error {
		panic("boom")
	})
	c := newStatic("x", WithClient(panicky), WithLogger(bufferLogger(&buf)))

	assert.NotPanics(t, func() { c.Store(context.Background(), NewPayload("data")) })
	assert.Contains(t, buf.String(), "panicked")
}

func TestStoreTimesOutSlowClient(t *testing.T) {
	var buf bytes.Buffer
	release := make(chan struct{})
	defer close(release)
	slow := ReporterFunc(func(context.Context, *types.TrainingMetricRecord) error {
		<-release
		return nil
	})
	c := newStatic("x", WithClient(slow), WithLogger(bufferLogger(&buf)), WithReportTimeout(50*time.Millisecond))

	start := time.Now()
	c.Store(context.Background(), NewPayload("data"))

	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, buf.String(), "deadline exceeded")
}

func TestReportErrorWrapping(t *testing.T) {
	c := newStatic("x", WithLogger(zerolog.Nop()))
	cause := errors.New("unavailable")

	err := c.report(context.Background(), ReporterFunc(func(context.Context, *types.TrainingMetricRecord) error {
		return cause
	}), types.NewTrainingMetricRecord(types.DataTypeTrainingLog, "x", types.DefaultNodeInfo()))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReport))
	assert.True(t, errors.Is(err, cause))
	var re *ReportError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "static", re.Collector)
}

func TestCollectionErrorWrapping(t *testing.T) {
	cause := errors.New("permission denied")
	err := error(&CollectionError{Collector: "log", Err: cause})

	assert.True(t, errors.Is(err, ErrCollection))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "collector log: permission denied", err.Error())
}

func TestSetClientSwap(t *testing.T) {
	c1 := &recordingReporter{}
	c2 := &recordingReporter{}
	c := newStatic("x", WithLogger(zerolog.Nop()))

	assert.Nil(t, c.Client())
	c.SetClient(c1)
	c.Store(context.Background(), NewPayload("a"))
	c.SetClient(c2)
	c.Store(context.Background(), NewPayload("b"))

	assert.Len(t, c1.Records(), 1)
	require.Len(t, c2.Records(), 1)
	assert.Equal(t, "b", c2.Records()[0].Content())

	c.SetClient(nil)
	assert.Nil(t, c.Client())
}

func TestConcurrentStoreAndSwap(t *testing.T) {
	c1 := &recordingReporter{}
	c2 := &recordingReporter{}
	c := newStatic("x", WithLogger(zerolog.Nop()), WithClient(c1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i == 0 && j == 25 {
					c.SetClient(c2)
				}
				c.Store(context.Background(), NewPayload("data"))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, len(c1.Records())+len(c2.Records()))
}
