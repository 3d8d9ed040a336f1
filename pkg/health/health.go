package health

import (
	"context"
	"sync"
	"time"
)

// DefaultThreshold is the number of consecutive failures that turns a
// Tracker down.
const DefaultThreshold = 3

// Result is the outcome of one probe
type Result struct {
	OK     bool
	Detail string
	At     time.Time
	Took   time.Duration
}

// Prober is implemented by every probe
type Prober interface {
	Probe(ctx context.Context) Result
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) Result

func (f ProberFunc) Probe(ctx context.Context) Result { return f(ctx) }

// Observe builds the Result of an operation that started at start. A nil err
// is a success described by detail.
func Observe(start time.Time, err error, detail string) Result {
	r := Result{OK: err == nil, Detail: detail, At: start, Took: time.Since(start)}
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// Tracker folds results into an up/down verdict. It starts up, goes down
// after threshold consecutive failures and comes back up on the first
// success. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	failures  int
	up        bool
	last      Result
}

// NewTracker creates an up tracker. Thresholds below 1 are raised to 1.
func NewTracker(threshold int) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{threshold: threshold, up: true}
}

// Record folds r in and reports the verdict and whether r changed it
func (t *Tracker) Record(r Result) (up, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = r
	was := t.up
	if r.OK {
		t.failures = 0
		t.up = true
	} else {
		t.failures++
		if t.failures >= t.threshold {
			t.up = false
		}
	}
	return t.up, t.up != was
}

func (t *Tracker) Up() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.up
}

// Failures returns the current run of consecutive failures
func (t *Tracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// Last returns the most recently recorded result
func (t *Tracker) Last() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
