package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	probe := NewPortProbe(addr, time.Second)
	assert.Equal(t, addr, probe.Addr())

	r := probe.Probe(context.Background())
	assert.True(t, r.OK, r.Detail)
	assert.Contains(t, r.Detail, "listening")

	require.NoError(t, lis.Close())
	r = NewPortProbe(addr, 200*time.Millisecond).Probe(context.Background())
	assert.False(t, r.OK)
	assert.Contains(t, r.Detail, "not reachable")
}

func TestPortProbeHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewPortProbe("127.0.0.1:1", 0).Probe(ctx)
	assert.False(t, r.OK)
}

func TestTracker(t *testing.T) {
	fail := Result{OK: false, Detail: "down"}
	ok := Result{OK: true}

	tests := []struct {
		name      string
		threshold int
		results   []Result
		wantUp    bool
		wantFails int
	}{
		{name: "starts up", threshold: 2, wantUp: true},
		{name: "tolerates failures below threshold", threshold: 2, results: []Result{fail}, wantUp: true, wantFails: 1},
		{name: "down at threshold", threshold: 2, results: []Result{fail, fail}, wantUp: false, wantFails: 2},
		{name: "success recovers", threshold: 2, results: []Result{fail, fail, ok}, wantUp: true},
		{name: "zero threshold acts as one", threshold: 0, results: []Result{fail}, wantUp: false, wantFails: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.threshold)
			for _, r := range tt.results {
				tr.Record(r)
			}
			assert.Equal(t, tt.wantUp, tr.Up())
			assert.Equal(t, tt.wantFails, tr.Failures())
		})
	}
}

func TestTrackerReportsTransitions(t *testing.T) {
	tr := NewTracker(1)

	up, changed := tr.Record(Result{OK: true})
	assert.True(t, up)
	assert.False(t, changed)

	up, changed = tr.Record(Result{OK: false, Detail: "refused"})
	assert.False(t, up)
	assert.True(t, changed)
	assert.Equal(t, "refused", tr.Last().Detail)

	_, changed = tr.Record(Result{OK: false})
	assert.False(t, changed)

	up, changed = tr.Record(Result{OK: true})
	assert.True(t, up)
	assert.True(t, changed)
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker(DefaultThreshold)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record(Result{OK: (i+j)%2 == 0})
				tr.Up()
			}
		}(i)
	}
	wg.Wait()
	tr.Record(Result{OK: true})
	assert.True(t, tr.Up())
}

func TestObserve(t *testing.T) {
	start := time.Now()

	r := Observe(start, nil, "heartbeat sent")
	assert.True(t, r.OK)
	assert.Equal(t, "heartbeat sent", r.Detail)
	assert.Equal(t, start, r.At)

	r = Observe(start, errors.New("unavailable"), "heartbeat sent")
	assert.False(t, r.OK)
	assert.Equal(t, "unavailable", r.Detail)
}

func TestProberFunc(t *testing.T) {
	var p Prober = ProberFunc(func(context.Context) Result { return Result{OK: true} })
	assert.True(t, p.Probe(context.Background()).OK)
}
