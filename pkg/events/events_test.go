package events

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arobust/arobust/pkg/metrics"
)

func receive(t *testing.T, s *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-s.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
		return nil
	}
}

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(NewEvent(EventCheckpointSaved, "saved actor step 10", map[string]string{"role": "actor"}))

	for _, sub := range []*Subscription{sub1, sub2} {
		ev := receive(t, sub)
		assert.Equal(t, EventCheckpointSaved, ev.Type)
		assert.Equal(t, "actor", ev.Metadata["role"])
		assert.NotEmpty(t, ev.ID)
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	ckpt := b.Subscribe(EventCheckpointSaved, EventCheckpointEvicted)
	all := b.Subscribe()

	b.Publish(NewEvent(EventDiagnosisDecided, "continue", nil))
	b.Publish(NewEvent(EventCheckpointEvicted, "evicted", nil))

	assert.Equal(t, EventCheckpointEvicted, receive(t, ckpt).Type)
	assert.Equal(t, EventDiagnosisDecided, receive(t, all).Type)
	assert.Equal(t, EventCheckpointEvicted, receive(t, all).Type)

	select {
	case ev := <-ckpt.C:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventSource(t *testing.T) {
	tests := []struct {
		t    EventType
		want string
	}{
		{EventCollectFailed, "collector"},
		{EventCheckpointFailed, "checkpoint"},
		{EventTrainingStepReport, "training"},
		{EventType("bare"), "bare"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.t.Source())
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	before := testutil.ToFloat64(metrics.EventsDroppedTotal.WithLabelValues(dropQueueFull))

	// Not started: the queue fills and later events are dropped.
	for i := 0; i < queueSize+50; i++ {
		b.Publish(&Event{Type: EventDiagnosisDecided})
	}
	after := testutil.ToFloat64(metrics.EventsDroppedTotal.WithLabelValues(dropQueueFull))
	assert.Equal(t, float64(50), after-before)

	b.Stop()
	b.Publish(&Event{Type: EventDiagnosisDecided})
}

func TestPublishSetsTimestamp(t *testing.T) {
	b := NewBroker()
	ev := &Event{Type: EventCollectFailed}
	b.Publish(ev)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestNilBrokerDiscards(t *testing.T) {
	var b *Broker
	b.Publish(NewEvent(EventReportFailed, "ignored", nil))
}

func TestCloseSubscription(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	require.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestStopClosesSubscriptions(t *testing.T) {
	b := NewBroker()
	b.Start()
	sub := b.Subscribe()

	b.Stop()
	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Close()

	late := b.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok, "subscribing after stop yields a closed subscription")
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestStartStopIdempotent(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Start()
	b.Stop()
	b.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	b.Stop()
	_, ok := <-sub.C
	assert.False(t, ok)
}
