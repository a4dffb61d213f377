package service

import (
	"context"
	"sync"
	"testing"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	store     *store.MemoryStore
	bus       *bus.Bus
	catalog   *CatalogService
	sales     *SalesService
	identity  *IdentityService
	discounts *DiscountService
	saga      *SagaOrchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	b := bus.New(zap.NewNop())
	env := &testEnv{
		store:     s,
		bus:       b,
		catalog:   NewCatalogService(s, zap.NewNop()),
		sales:     NewSalesService(s, zap.NewNop()),
		identity:  NewIdentityService(s),
		discounts: NewDiscountService(s),
	}
	env.saga = NewSagaOrchestrator(env.catalog, env.sales, env.discounts, b, decimal.RequireFromString("0.10"), zap.NewNop())
	return env
}

func (e *testEnv) seedProduct(t *testing.T, id string, stock int, price int64) {
	t.Helper()
	require.NoError(t, e.catalog.UpdateProduct(context.Background(), &models.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	}))
}

func (e *testEnv) stockOf(t *testing.T, id string) int {
	t.Helper()
	p, err := e.catalog.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func line(productID string, qty int, price int64) models.OrderItem {
	return models.OrderItem{
		ProductID: productID,
		Name:      "Product " + productID,
		Price:     decimal.NewFromInt(price),
		Quantity:  qty,
	}
}

// eventLog records every event published on the given topics.
type eventLog struct {
	mu     sync.Mutex
	events []bus.Event
}

func recordEvents(b *bus.Bus, topics ...string) *eventLog {
	l := &eventLog{}
	for _, topic := range topics {
		b.Subscribe(topic, func(ctx context.Context, evt bus.Event) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.events = append(l.events, evt)
			return nil
		})
	}
	return l
}

func (l *eventLog) on(topic string) []bus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []bus.Event
	for _, e := range l.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
