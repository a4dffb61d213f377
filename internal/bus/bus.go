package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is a published domain fact. Payload shape is fixed by topic convention.
type Event struct {
	ID        string    `json:"event_id"`
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes an event. A returned error is logged by the bus and
// never reaches the publisher.
type Handler func(ctx context.Context, evt Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id    uint64
	topic string
	bus   *Bus
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s)
}

type entry struct {
	id      uint64
	handler Handler
}

// Bus is an in-process named-topic publish/subscribe registry.
// Handlers for one Publish run synchronously in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   uint64
	logger   *zap.Logger
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]entry),
		logger:   util.LoggerOrDefault(logger),
	}
}

// Subscribe registers handler for topic.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], entry{id: b.nextID, handler: handler})

	return &Subscription{id: b.nextID, topic: topic, bus: b}
}

// Unsubscribe removes a subscription. Unknown or already removed
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[sub.topic]
	for i, e := range entries {
		if e.id != sub.id {
			continue
		}
		// copy so in-flight publishes keep iterating their own snapshot
		next := make([]entry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, sub.topic)
		} else {
			b.handlers[sub.topic] = next
		}
		return
	}
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Publish delivers payload to every handler currently subscribed to topic.
// Handlers subscribed or removed during delivery do not affect this call.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	b.mu.RLock()
	snapshot := b.handlers[topic]
	b.mu.RUnlock()

	evt := Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	util.BusPublishedTotal.WithLabelValues(topic).Inc()

	for _, e := range snapshot {
		if err := b.deliver(ctx, e.handler, evt); err != nil {
			util.BusHandlerFailuresTotal.WithLabelValues(topic).Inc()
			b.logger.Error("Bus handler failed",
				zap.String("topic", topic),
				zap.String("event_id", evt.ID),
				zap.Error(err))
		}
	}
}

// deliver runs one handler, converting a panic into an error.
func (b *Bus) deliver(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

// Watch returns a channel that receives every event on topic until cancel
// is called. Sends never block the publisher: when the buffer is full the
// event is dropped, which is fine for level-triggered notifications.
func (b *Bus) Watch(topic string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	var once sync.Once
	var closed bool
	var mu sync.Mutex

	sub := b.Subscribe(topic, func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case ch <- evt:
		default:
			util.BusDroppedTotal.WithLabelValues(topic).Inc()
		}
		return nil
	})

	cancel := func() {
		once.Do(func() {
			sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel
}
