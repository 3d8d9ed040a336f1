package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arobust/arobust/pkg/metrics"
)

// EventType names an event as "<source>.<what>"
type EventType string

const (
	EventCollectFailed      EventType = "collector.collect_failed"
	EventReportFailed       EventType = "collector.report_failed"
	EventDiagnosisDecided   EventType = "diagnosis.decided"
	EventCheckpointSaved    EventType = "checkpoint.saved"
	EventCheckpointFailed   EventType = "checkpoint.save_failed"
	EventCheckpointEvicted  EventType = "checkpoint.evicted"
	EventTrainingStepReport EventType = "training.step_reported"
)

// Source returns the part before the first dot, e.g. "checkpoint"
func (t EventType) Source() string {
	src, _, _ := strings.Cut(string(t), ".")
	return src
}

const (
	queueSize      = 128
	subscriberSize = 64

	dropQueueFull      = "queue_full"
	dropSubscriberFull = "subscriber_full"
)

// Event is something that happened inside the agent
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// NewEvent builds an event with a fresh ID and the current time
func NewEvent(t EventType, message string, metadata map[string]string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}
}

// Subscription receives the events it was created for on C. C is closed by
// Close or when the broker stops.
type Subscription struct {
	C <-chan *Event

	ch     chan *Event
	types  map[EventType]struct{}
	broker *Broker
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.detach(s)
}

// Broker fans events out to subscriptions. Publishing is asynchronous and
// never blocks the publisher.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	queue   chan *Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		queue:  make(chan *Event, queueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins delivery. Events published before Start wait in the queue.
func (b *Broker) Start() {
	b.startOnce.Do(func() {
		b.mu.Lock()
		b.started = true
		b.mu.Unlock()
		go b.run()
	})
}

// Stop ends delivery and closes every subscription channel. Queued events
// that were not delivered yet are discarded.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.mu.RLock()
		started := b.started
		b.mu.RUnlock()
		if started {
			<-b.doneCh
		}
		b.closeAll()
	})
}

// Subscribe returns a subscription to the given event types, or to every
// event when none are given. Subscribing to a stopped broker yields a
// closed subscription.
func (b *Broker) Subscribe(types ...EventType) *Subscription {
	ch := make(chan *Event, subscriberSize)
	s := &Subscription{C: ch, ch: ch, broker: b}
	if len(types) > 0 {
		s.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish queues event for delivery. When the queue is full or the broker
// is stopped the event is dropped. A nil broker discards everything.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		metrics.EventsDroppedTotal.WithLabelValues(dropQueueFull).Inc()
	}
}

// SubscriberCount returns the number of open subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

// deliver hands event to every interested subscription; a full subscriber
// misses it.
func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if !s.wants(event.Type) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(dropSubscriberFull).Inc()
		}
	}
}

func (b *Broker) detach(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
