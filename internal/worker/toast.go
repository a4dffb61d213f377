package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastInfo    ToastLevel = "info"
	ToastError   ToastLevel = "error"
	ToastWarning ToastLevel = "warning"
)

// Audience of a toast
const (
	AudienceCustomer = "customer"
	AudienceOperator = "operator"
)

// Toast is a short notification for a customer or an operator
type Toast struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id,omitempty"`
	Audience  string     `json:"audience"`
	Level     ToastLevel `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// ToastNotifier turns order and checkout events into toasts, keeping the
// most recent ones.
type ToastNotifier struct {
	stopper
	subs   []*bus.Subscription
	limit  int
	logger *zap.Logger

	mu     sync.RWMutex
	toasts []Toast
}

func NewToastNotifier(eventBus *bus.Bus, limit int, logger *zap.Logger) *ToastNotifier {
	if limit < 1 {
		limit = 100
	}
	n := &ToastNotifier{
		stopper: newStopper(),
		limit:   limit,
		logger:  util.LoggerOrDefault(logger),
	}
	n.subs = []*bus.Subscription{
		eventBus.Subscribe(models.TopicOrderCreated, n.onOrderCreated),
		eventBus.Subscribe(models.TopicSagaFailed, n.onSagaFailed),
		eventBus.Subscribe(models.TopicOrderStatusChanged, n.onStatusChanged),
	}
	return n
}

func (n *ToastNotifier) onOrderCreated(ctx context.Context, evt bus.Event) error {
	order, ok := evt.Payload.(models.Order)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", evt.Topic, evt.Payload)
	}
	n.push(order.UserID, AudienceCustomer, ToastSuccess,
		fmt.Sprintf("Order placed. Total %s", order.Total.StringFixed(2)))
	return nil
}

func (n *ToastNotifier) onSagaFailed(ctx context.Context, evt bus.Event) error {
	failure, ok := evt.Payload.(models.SagaFailedEvent)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", evt.Topic, evt.Payload)
	}
	if failure.Committed {
		n.push("", AudienceOperator, ToastWarning,
			fmt.Sprintf("Order %s was placed but a follow-up step failed: %s", failure.OrderID, failure.Reason))
		return nil
	}
	n.push(failure.PayerID, AudienceCustomer, ToastError, service.CheckoutFailedMessage)
	return nil
}

func (n *ToastNotifier) onStatusChanged(ctx context.Context, evt bus.Event) error {
	change, ok := evt.Payload.(models.OrderStatusChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", evt.Topic, evt.Payload)
	}
	n.push(change.UserID, AudienceCustomer, ToastInfo,
		fmt.Sprintf("Your order is now %s", change.To))
	return nil
}

func (n *ToastNotifier) push(userID, audience string, level ToastLevel, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.toasts = append(n.toasts, Toast{
		ID:        uuid.New().String(),
		UserID:    userID,
		Audience:  audience,
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now(),
	})
	if over := len(n.toasts) - n.limit; over > 0 {
		n.toasts = append([]Toast(nil), n.toasts[over:]...)
	}
}

// Toasts returns the toasts addressed to userID, oldest first. An empty
// userID returns the operator toasts.
func (n *ToastNotifier) Toasts(userID string) []Toast {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]Toast, 0)
	for _, t := range n.toasts {
		if userID == "" && t.Audience == AudienceOperator {
			out = append(out, t)
		} else if userID != "" && t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// Dismiss removes a toast
func (n *ToastNotifier) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, t := range n.toasts {
		if t.ID == id {
			n.toasts = append(n.toasts[:i:i], n.toasts[i+1:]...)
			return
		}
	}
}

// Start blocks until ctx is done or Stop is called. Toasts are produced
// by the bus handlers registered in NewToastNotifier.
func (n *ToastNotifier) Start(ctx context.Context) error {
	return n.wait(ctx)
}

func (n *ToastNotifier) Stop() error {
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.stop()
	return nil
}
