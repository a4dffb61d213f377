package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"storefront/internal/bus"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckoutCreatesPendingOrderAndDecrementsStock(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	events := recordEvents(env.bus, models.TopicOrderCreated, models.TopicProductUpdated, models.TopicSagaFailed)

	order, err := env.saga.Checkout(context.Background(), CartSnapshot{
		Items:           []models.OrderItem{line("p1", 2, 100)},
		ShippingAddress: "1 Main St",
	}, "u1")

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, "200.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "20.00", order.Tax.StringFixed(2))
	assert.Equal(t, "220.00", order.Total.StringFixed(2))
	assert.Equal(t, 3, env.stockOf(t, "p1"))

	stored, err := env.sales.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)

	created := events.on(models.TopicOrderCreated)
	require.Len(t, created, 1)
	assert.Equal(t, order.ID, created[0].Payload.(models.Order).ID)

	updated := events.on(models.TopicProductUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, 3, updated[0].Payload.(models.Product).Stock)

	assert.Empty(t, events.on(models.TopicSagaFailed))
}

func TestCheckoutInsufficientStockFailsWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 1, 100)
	events := recordEvents(env.bus, models.TopicOrderCreated, models.TopicSagaFailed)

	order, err := env.saga.Checkout(context.Background(), CartSnapshot{
		Items: []models.OrderItem{line("p1", 2, 100)},
	}, "u1")

	assert.Nil(t, order)
	require.Error(t, err)
	assert.Equal(t, CheckoutFailedMessage, err.Error())
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var failure *SagaFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, models.SagaStockReserved, failure.Step)

	var short *InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, 1, short.Available)

	assert.Equal(t, 1, env.stockOf(t, "p1"))
	orders, err := env.sales.GetOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)

	failed := events.on(models.TopicSagaFailed)
	require.Len(t, failed, 1)
	payload := failed[0].Payload.(models.SagaFailedEvent)
	assert.Equal(t, "insufficient_stock", payload.Reason)
	assert.False(t, payload.Committed)
	assert.Empty(t, events.on(models.TopicOrderCreated))
}

func TestCheckoutIsAllOrNothingAcrossLines(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	env.seedProduct(t, "p2", 1, 50)

	_, err := env.saga.Checkout(context.Background(), CartSnapshot{
		Items: []models.OrderItem{line("p1", 2, 100), line("p2", 3, 50)},
	}, "u1")

	require.Error(t, err)
	assert.Equal(t, 5, env.stockOf(t, "p1"))
	assert.Equal(t, 1, env.stockOf(t, "p2"))
}

func TestCheckoutSumsLinesForSameProduct(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 3, 100)

	_, err := env.saga.Checkout(context.Background(), CartSnapshot{
		Items: []models.OrderItem{line("p1", 2, 100), line("p1", 2, 100)},
	}, "u1")

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 3, env.stockOf(t, "p1"))
}

func TestCheckoutTwiceCreatesTwoOrders(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	cart := CartSnapshot{Items: []models.OrderItem{line("p1", 1, 100)}}

	first, err := env.saga.Checkout(context.Background(), cart, "u1")
	require.NoError(t, err)
	second, err := env.saga.Checkout(context.Background(), cart, "u1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 3, env.stockOf(t, "p1"))

	orders, err := env.sales.GetOrdersByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestCheckoutLocksCartPrice(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 150)

	order, err := env.saga.Checkout(context.Background(), CartSnapshot{
		Items: []models.OrderItem{line("p1", 1, 100)},
	}, "u1")
	require.NoError(t, err)

	p, err := env.catalog.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	p.Price = decimal.NewFromInt(999)
	require.NoError(t, env.catalog.UpdateProduct(context.Background(), p))

	stored, err := env.sales.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", stored.Items[0].Price.StringFixed(2))
	assert.Equal(t, "110.00", stored.Total.StringFixed(2))
}

func TestCheckoutAppliesDiscountAndRedeemsIt(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	require.NoError(t, env.discounts.UpsertDiscount(context.Background(), models.Discount{
		Code:    "save10",
		Type:    models.DiscountPercent,
		Value:   decimal.NewFromInt(10),
		Active:  true,
		MaxUses: 1,
	}))

	order, err := env.saga.Checkout(context.Background(), CartSnapshot{
		Items:        []models.OrderItem{line("p1", 2, 100)},
		DiscountCode: "SAVE10",
	}, "u1")
	require.NoError(t, err)

	assert.Equal(t, "SAVE10", order.DiscountCode)
	assert.Equal(t, "20.00", order.Discount.StringFixed(2))
	assert.Equal(t, "18.00", order.Tax.StringFixed(2))
	assert.Equal(t, "198.00", order.Total.StringFixed(2))

	d, err := env.discounts.GetDiscount(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Uses)

	_, err = env.saga.Checkout(context.Background(), CartSnapshot{
		Items:        []models.OrderItem{line("p1", 1, 100)},
		DiscountCode: "SAVE10",
	}, "u1")
	assert.ErrorIs(t, err, ErrInvalidDiscount)
	assert.Equal(t, 3, env.stockOf(t, "p1"))
}

func TestCheckoutReservesVariationStock(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.catalog.UpdateProduct(context.Background(), &models.Product{
		ID:    "shirt",
		Price: decimal.NewFromInt(20),
		Stock: 100,
		Variations: []models.Variation{
			{ID: "s", Name: "Small", Stock: 1},
			{ID: "m", Name: "Medium", Stock: 4},
		},
	}))

	item := line("shirt", 2, 20)
	item.SelectedVariation = &models.VariationRef{ID: "m", Name: "Medium"}
	_, err := env.saga.Checkout(context.Background(), CartSnapshot{Items: []models.OrderItem{item}}, "u1")
	require.NoError(t, err)

	small := line("shirt", 2, 20)
	small.SelectedVariation = &models.VariationRef{ID: "s", Name: "Small"}
	_, err = env.saga.Checkout(context.Background(), CartSnapshot{Items: []models.OrderItem{small}}, "u1")
	assert.ErrorIs(t, err, ErrInsufficientStock)

	p, err := env.catalog.GetProduct(context.Background(), "shirt")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Stock)
	assert.Equal(t, 1, p.Variations[0].Stock)
	assert.Equal(t, 2, p.Variations[1].Stock)
}

func TestCheckoutRejectsInvalidCarts(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	events := recordEvents(env.bus, models.TopicSagaFailed)

	cases := []struct {
		name  string
		cart  CartSnapshot
		payer string
	}{
		{"empty", CartSnapshot{}, "u1"},
		{"zero quantity", CartSnapshot{Items: []models.OrderItem{line("p1", 0, 100)}}, "u1"},
		{"no payer", CartSnapshot{Items: []models.OrderItem{line("p1", 1, 100)}}, ""},
		{"unknown product", CartSnapshot{Items: []models.OrderItem{line("nope", 1, 100)}}, "u1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.saga.Checkout(context.Background(), tc.cart, tc.payer)
			var failure *SagaFailure
			assert.True(t, errors.As(err, &failure))
		})
	}

	assert.Len(t, events.on(models.TopicSagaFailed), len(cases))
	assert.Equal(t, 5, env.stockOf(t, "p1"))
}

type failingRecorder struct{}

func (failingRecorder) CreateOrder(ctx context.Context, order models.Order) error {
	return errors.New("store unavailable")
}

func TestCheckoutReleasesStockWhenOrderCannotBeRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	saga := NewSagaOrchestrator(env.catalog, failingRecorder{}, env.discounts, env.bus, decimal.Zero, zap.NewNop())
	events := recordEvents(env.bus, models.TopicSagaFailed, models.TopicOrderCreated)

	_, err := saga.Checkout(context.Background(), CartSnapshot{
		Items: []models.OrderItem{line("p1", 2, 100)},
	}, "u1")

	var failure *SagaFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, models.SagaOrderRecorded, failure.Step)
	assert.Equal(t, 5, env.stockOf(t, "p1"))
	assert.Len(t, events.on(models.TopicSagaFailed), 1)
	assert.Empty(t, events.on(models.TopicOrderCreated))
}

func TestCheckoutReleasesDiscountHoldWhenOrderCannotBeRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	require.NoError(t, env.discounts.UpsertDiscount(context.Background(), models.Discount{
		Code: "ONCE", Type: models.DiscountFixed, Value: decimal.NewFromInt(5), Active: true, MaxUses: 1,
	}))
	broken := NewSagaOrchestrator(env.catalog, failingRecorder{}, env.discounts, env.bus, decimal.Zero, zap.NewNop())

	_, err := broken.Checkout(context.Background(), CartSnapshot{
		Items:        []models.OrderItem{line("p1", 1, 100)},
		DiscountCode: "ONCE",
	}, "u1")
	require.Error(t, err)

	d, err := env.discounts.GetDiscount(context.Background(), "ONCE")
	require.NoError(t, err)
	assert.Zero(t, d.Held)
	assert.Zero(t, d.Uses)

	_, err = env.saga.Checkout(context.Background(), CartSnapshot{
		Items:        []models.OrderItem{line("p1", 1, 100)},
		DiscountCode: "ONCE",
	}, "u1")
	require.NoError(t, err)
}

func TestConcurrentCheckoutsNeverOveruseDiscount(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 50, 100)
	require.NoError(t, env.discounts.UpsertDiscount(context.Background(), models.Discount{
		Code: "ONCE", Type: models.DiscountPercent, Value: decimal.NewFromInt(50), Active: true, MaxUses: 1,
	}))

	var wg sync.WaitGroup
	var succeeded int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.saga.Checkout(context.Background(), CartSnapshot{
				Items:        []models.OrderItem{line("p1", 1, 100)},
				DiscountCode: "ONCE",
			}, "u1")
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, 49, env.stockOf(t, "p1"))

	d, err := env.discounts.GetDiscount(context.Background(), "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Uses)
	assert.Zero(t, d.Held)
}

func TestCheckoutSurvivesFailingSubscribers(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	env.bus.Subscribe(models.TopicOrderCreated, func(ctx context.Context, evt bus.Event) error {
		panic("marketing automation exploded")
	})
	env.bus.Subscribe(models.TopicOrderCreated, func(ctx context.Context, evt bus.Event) error {
		return errors.New("toast failed")
	})

	order, err := env.saga.Checkout(context.Background(), CartSnapshot{
		Items: []models.OrderItem{line("p1", 1, 100)},
	}, "u1")

	require.NoError(t, err)
	_, err = env.sales.GetOrder(context.Background(), order.ID)
	assert.NoError(t, err)
	assert.Equal(t, 4, env.stockOf(t, "p1"))
}

type flakyDiscounts struct {
	discount models.Discount
}

func (f flakyDiscounts) Resolve(ctx context.Context, code string) (*models.Discount, error) {
	d := f.discount
	return &d, nil
}

func (f flakyDiscounts) Hold(ctx context.Context, code string) error    { return nil }
func (f flakyDiscounts) Release(ctx context.Context, code string) error { return nil }

func (f flakyDiscounts) Redeem(ctx context.Context, code string) error {
	return errors.New("discount store down")
}

func TestCheckoutPostCommitFailureIsAdvisory(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 100)
	discounts := flakyDiscounts{discount: models.Discount{
		Code: "FIVE", Type: models.DiscountFixed, Value: decimal.NewFromInt(5), Active: true,
	}}
	saga := NewSagaOrchestrator(env.catalog, env.sales, discounts, env.bus, decimal.Zero, zap.NewNop())
	events := recordEvents(env.bus, models.TopicSagaFailed, models.TopicOrderCreated)

	order, err := saga.Checkout(context.Background(), CartSnapshot{
		Items:        []models.OrderItem{line("p1", 1, 100)},
		DiscountCode: "FIVE",
	}, "u1")

	require.NoError(t, err)
	assert.Equal(t, "95.00", order.Total.StringFixed(2))
	assert.Len(t, events.on(models.TopicOrderCreated), 1)

	failed := events.on(models.TopicSagaFailed)
	require.Len(t, failed, 1)
	payload := failed[0].Payload.(models.SagaFailedEvent)
	assert.True(t, payload.Committed)
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, 4, env.stockOf(t, "p1"))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 10, 100)

	var wg sync.WaitGroup
	var succeeded int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.saga.Checkout(context.Background(), CartSnapshot{
				Items: []models.OrderItem{line("p1", 1, 100)},
			}, "u1")
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded)
	assert.Equal(t, 0, env.stockOf(t, "p1"))

	orders, err := env.sales.GetOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 10)
}
