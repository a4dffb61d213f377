package broker

import (
	"context"
	"sync"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// EventRelay mirrors bus events to Kafka for audit. Bus handlers only
// enqueue; Start does the writes, so a slow or absent broker never delays
// a publisher. Relay failures are logged and the event is dropped.
type EventRelay struct {
	producer *Producer
	queue    chan bus.Event
	subs     []*bus.Subscription
	logger   *zap.Logger

	once sync.Once
	done chan struct{}
}

// NewEventRelay subscribes to topics on eventBus
func NewEventRelay(eventBus *bus.Bus, producer *Producer, topics []string, queueSize int, logger *zap.Logger) *EventRelay {
	if queueSize < 1 {
		queueSize = 1
	}
	r := &EventRelay{
		producer: producer,
		queue:    make(chan bus.Event, queueSize),
		logger:   util.LoggerOrDefault(logger),
		done:     make(chan struct{}),
	}
	for _, topic := range topics {
		r.subs = append(r.subs, eventBus.Subscribe(topic, r.enqueue))
	}
	return r
}

func (r *EventRelay) enqueue(ctx context.Context, evt bus.Event) error {
	select {
	case r.queue <- evt:
	default:
		util.RelayPublishedTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("Relay queue full, dropping event",
			zap.String("topic", evt.Topic),
			zap.String("event_id", evt.ID))
	}
	return nil
}

// Start writes queued events until ctx is done or Stop is called
func (r *EventRelay) Start(ctx context.Context) error {
	r.logger.Info("Starting kafka event relay")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case evt := <-r.queue:
			r.relay(ctx, evt)
		}
	}
}

func (r *EventRelay) relay(ctx context.Context, evt bus.Event) {
	if err := r.producer.PublishEvent(ctx, messageKey(evt), evt); err != nil {
		util.RelayPublishedTotal.WithLabelValues("error").Inc()
		r.logger.Error("Failed to relay event",
			zap.String("topic", evt.Topic),
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return
	}
	util.RelayPublishedTotal.WithLabelValues("ok").Inc()
}

// messageKey keeps events about the same entity on one partition
func messageKey(evt bus.Event) string {
	switch p := evt.Payload.(type) {
	case models.Order:
		return "order-" + p.ID
	case models.OrderStatusChangedEvent:
		return "order-" + p.OrderID
	case models.SagaFailedEvent:
		if p.OrderID != "" {
			return "order-" + p.OrderID
		}
		return "checkout-" + p.CheckoutID
	case models.Product:
		return "product-" + p.ID
	case models.User:
		return "user-" + p.ID
	default:
		return evt.Topic
	}
}

// Stop unsubscribes from the bus and ends Start. The producer is closed
// by its owner.
func (r *EventRelay) Stop() error {
	r.logger.Info("Stopping kafka event relay")
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.once.Do(func() { close(r.done) })
	return nil
}
