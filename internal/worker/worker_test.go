package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/textgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func startWorker(t *testing.T, w Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMarketingWorkerTracksPurchases(t *testing.T) {
	s := store.NewMemoryStore()
	b := bus.New(zap.NewNop())
	marketing := service.NewMarketingService(s)
	w := NewMarketingWorker(b, marketing, 8, zap.NewNop())
	startWorker(t, w)

	b.Publish(context.Background(), models.TopicOrderCreated, models.Order{
		ID:     "o1",
		UserID: "u1",
		Total:  decimal.RequireFromString("19.5"),
	})

	assert.Eventually(t, func() bool {
		events, err := marketing.GetEvents(context.Background(), models.MarketingKindPurchase)
		return err == nil && len(events) == 1
	}, waitFor, tick)

	events, err := marketing.GetEvents(context.Background(), models.MarketingKindPurchase)
	require.NoError(t, err)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "o1", events[0].Data["order_id"])
	assert.Equal(t, "19.50", events[0].Data["total"])
}

func TestMarketingWorkerSubscribesOptedInUsers(t *testing.T) {
	s := store.NewMemoryStore()
	b := bus.New(zap.NewNop())
	marketing := service.NewMarketingService(s)
	w := NewMarketingWorker(b, marketing, 8, zap.NewNop())

	// queued before Start, processed once it runs
	ctx := context.Background()
	b.Publish(ctx, models.TopicUserRegistered, models.User{ID: "u1", Email: "a@example.com", NewsletterOptIn: true})
	b.Publish(ctx, models.TopicUserRegistered, models.User{ID: "u2", Email: "b@example.com"})
	startWorker(t, w)

	assert.Eventually(t, func() bool {
		events, err := marketing.GetEvents(ctx, models.MarketingKindNewsletter)
		return err == nil && len(events) == 1
	}, waitFor, tick)

	events, err := marketing.GetEvents(ctx, models.MarketingKindNewsletter)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", events[0].Email)
}

func TestMarketingWorkerStopUnsubscribes(t *testing.T) {
	b := bus.New(zap.NewNop())
	w := NewMarketingWorker(b, service.NewMarketingService(store.NewMemoryStore()), 1, zap.NewNop())
	assert.Equal(t, 1, b.SubscriberCount(models.TopicOrderCreated))

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Zero(t, b.SubscriberCount(models.TopicOrderCreated))
	assert.Zero(t, b.SubscriberCount(models.TopicUserRegistered))
	assert.NoError(t, w.Start(context.Background()))
}

func newChat(b *bus.Bus) *service.ChatSessionManager {
	return service.NewChatSessionManager(store.NewMemoryStore(), b, textgen.NewSafe(nil, zap.NewNop()), "hold on", zap.NewNop())
}

func TestInboxPollerFollowsChatUpdates(t *testing.T) {
	b := bus.New(zap.NewNop())
	chat := newChat(b)
	ctx := context.Background()

	// long interval so only notifications drive the refresh
	p := NewInboxPoller(chat, b, time.Hour, zap.NewNop())
	startWorker(t, p)
	require.Eventually(t, func() bool { return !p.Snapshot().RefreshedAt.IsZero() }, waitFor, tick)
	assert.Empty(t, p.Snapshot().Sessions)

	s, err := chat.CreateOrGetSession(ctx, "u1", "Ada")
	require.NoError(t, err)
	for _, text := range []string{"a", "b", "c"} {
		_, err := chat.SendMessage(ctx, s.ID, text, models.SenderUser)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return p.Snapshot().TotalUnread == 3 }, waitFor, tick)
	require.Len(t, p.Snapshot().Sessions, 1)

	_, err = chat.MarkSessionRead(ctx, s.ID, models.SenderAgent)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Snapshot().TotalUnread == 0 }, waitFor, tick)
}

func TestInboxPollerRefreshesOnInterval(t *testing.T) {
	b := bus.New(zap.NewNop())
	chat := newChat(b)
	p := NewInboxPoller(chat, b, 20*time.Millisecond, zap.NewNop())
	startWorker(t, p)
	require.Eventually(t, func() bool { return !p.Snapshot().RefreshedAt.IsZero() }, waitFor, tick)

	// no chat activity, only the ticker moves RefreshedAt
	first := p.Snapshot().RefreshedAt
	assert.Eventually(t, func() bool { return p.Snapshot().RefreshedAt.After(first) }, waitFor, tick)
}

func TestWidgetViewShowsActiveSession(t *testing.T) {
	b := bus.New(zap.NewNop())
	chat := newChat(b)
	ctx := context.Background()

	v := NewWidgetView(chat, b, "u1", time.Hour, zap.NewNop())
	startWorker(t, v)
	require.Eventually(t, func() bool { return !v.Snapshot().RefreshedAt.IsZero() }, waitFor, tick)
	assert.Nil(t, v.Snapshot().Session)

	s, err := chat.CreateOrGetSession(ctx, "u1", "Ada")
	require.NoError(t, err)
	_, err = chat.SendMessage(ctx, s.ID, "hi", models.SenderUser)
	require.NoError(t, err)
	_, err = chat.SendMessage(ctx, s.ID, "hello Ada", models.SenderAgent)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap := v.Snapshot()
		return snap.Session != nil && len(snap.Messages) == 2 && snap.Unread == 1
	}, waitFor, tick)

	_, err = chat.CloseSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return v.Snapshot().Session == nil }, waitFor, tick)
}

func TestToastNotifier(t *testing.T) {
	b := bus.New(zap.NewNop())
	n := NewToastNotifier(b, 10, zap.NewNop())
	ctx := context.Background()

	b.Publish(ctx, models.TopicOrderCreated, models.Order{ID: "o1", UserID: "u1", Total: decimal.NewFromInt(220)})
	b.Publish(ctx, models.TopicSagaFailed, models.SagaFailedEvent{PayerID: "u2", Step: models.SagaStockReserved, Reason: "insufficient_stock"})
	b.Publish(ctx, models.TopicSagaFailed, models.SagaFailedEvent{PayerID: "u1", OrderID: "o1", Committed: true, Reason: "discount_redeem_failed"})
	b.Publish(ctx, models.TopicOrderStatusChanged, models.OrderStatusChangedEvent{OrderID: "o1", UserID: "u1", From: models.OrderStatusPending, To: models.OrderStatusProcessing})

	u1 := n.Toasts("u1")
	require.Len(t, u1, 2)
	assert.Equal(t, ToastSuccess, u1[0].Level)
	assert.Contains(t, u1[0].Message, "220.00")
	assert.Equal(t, ToastInfo, u1[1].Level)
	assert.Contains(t, u1[1].Message, "processing")

	u2 := n.Toasts("u2")
	require.Len(t, u2, 1)
	assert.Equal(t, ToastError, u2[0].Level)
	assert.Equal(t, service.CheckoutFailedMessage, u2[0].Message)
	assert.NotContains(t, u2[0].Message, "insufficient")

	ops := n.Toasts("")
	require.Len(t, ops, 1)
	assert.Equal(t, ToastWarning, ops[0].Level)
	assert.Contains(t, ops[0].Message, "o1")

	n.Dismiss(u1[0].ID)
	assert.Len(t, n.Toasts("u1"), 1)

	require.NoError(t, n.Stop())
	b.Publish(ctx, models.TopicOrderCreated, models.Order{ID: "o2", UserID: "u3"})
	assert.Empty(t, n.Toasts("u3"))
}

func TestToastNotifierKeepsMostRecent(t *testing.T) {
	b := bus.New(zap.NewNop())
	n := NewToastNotifier(b, 2, zap.NewNop())
	for _, to := range []models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusDelivered, models.OrderStatusCancelled} {
		b.Publish(context.Background(), models.TopicOrderStatusChanged, models.OrderStatusChangedEvent{UserID: "u1", To: to})
	}

	got := n.Toasts("u1")
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Message, "delivered")
	assert.Contains(t, got[1].Message, "cancelled")
}

func TestGroupStartsAndStopsWorkers(t *testing.T) {
	b := bus.New(zap.NewNop())
	marketing := service.NewMarketingService(store.NewMemoryStore())
	mw := NewMarketingWorker(b, marketing, 4, zap.NewNop())
	tn := NewToastNotifier(b, 10, zap.NewNop())

	g := NewGroup(zap.NewNop(), mw, tn)
	g.Start(context.Background())

	b.Publish(context.Background(), models.TopicOrderCreated, models.Order{ID: "o1", UserID: "u1"})
	assert.Eventually(t, func() bool {
		events, err := marketing.GetEvents(context.Background(), models.MarketingKindPurchase)
		return err == nil && len(events) == 1
	}, waitFor, tick)

	done := make(chan struct{})
	go func() {
		g.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("group did not stop")
	}
}

type failingWorker struct{ stopped chan struct{} }

func (w *failingWorker) Start(ctx context.Context) error {
	defer close(w.stopped)
	return errors.New("broker unreachable")
}

func (w *failingWorker) Stop() error { return nil }

func TestGroupWithoutLoggerReportsWorkerErrors(t *testing.T) {
	w := &failingWorker{stopped: make(chan struct{})}
	g := NewGroup(nil, w)
	g.Start(context.Background())

	select {
	case <-w.stopped:
	case <-time.After(waitFor):
		t.Fatal("worker never ran")
	}
	assert.NotPanics(t, g.Stop)
}
