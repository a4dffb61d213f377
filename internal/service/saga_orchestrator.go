package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartSnapshot is the cart as it stood when the shopper pressed checkout.
// Item prices are already resolved and are not re-read from the catalog.
type CartSnapshot struct {
	Items           []models.OrderItem `json:"items"`
	DiscountCode    string             `json:"discount_code,omitempty"`
	ShippingAddress string             `json:"shipping_address"`
}

// SagaFailure is returned by Checkout when no order was created. Its
// message is safe to show to shoppers; Step and Err carry the detail.
type SagaFailure struct {
	CheckoutID string
	Step       models.SagaStep
	Reason     string
	Err        error
}

func (f *SagaFailure) Error() string {
	return CheckoutFailedMessage
}

func (f *SagaFailure) Unwrap() error {
	return f.Err
}

// StockReserver is the catalog side of the saga
type StockReserver interface {
	ReserveStock(ctx context.Context, lines []StockLine) (*Reservation, error)
	ReleaseStock(ctx context.Context, r *Reservation) error
}

// OrderRecorder is the sales side of the saga
type OrderRecorder interface {
	CreateOrder(ctx context.Context, order models.Order) error
}

// DiscountResolver validates discount codes and tracks their uses. Hold
// claims a use before the order is recorded; Release gives it back and
// Redeem makes it permanent.
type DiscountResolver interface {
	Resolve(ctx context.Context, code string) (*models.Discount, error)
	Hold(ctx context.Context, code string) error
	Release(ctx context.Context, code string) error
	Redeem(ctx context.Context, code string) error
}

// SagaOrchestrator drives checkout across catalog and sales:
// Initiated -> StockReserved -> OrderRecorded -> Completed, or Failed.
type SagaOrchestrator struct {
	catalog   StockReserver
	sales     OrderRecorder
	discounts DiscountResolver
	bus       *bus.Bus
	taxRate   decimal.Decimal
	logger    *zap.Logger
	now       func() time.Time
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(
	catalog StockReserver,
	sales OrderRecorder,
	discounts DiscountResolver,
	eventBus *bus.Bus,
	taxRate decimal.Decimal,
	logger *zap.Logger,
) *SagaOrchestrator {
	return &SagaOrchestrator{
		catalog:   catalog,
		sales:     sales,
		discounts: discounts,
		bus:       eventBus,
		taxRate:   taxRate,
		logger:    util.LoggerOrDefault(logger),
		now:       time.Now,
	}
}

// Checkout runs the order saga for cart on behalf of payerID. Submitting
// the same cart twice creates two orders; there is no dedup key.
func (so *SagaOrchestrator) Checkout(ctx context.Context, cart CartSnapshot, payerID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.Checkout")
	defer span.End()

	util.CheckoutAttemptsTotal.Inc()
	checkoutID := uuid.New().String()
	log := so.logger.With(zap.String("checkout_id", checkoutID), zap.String("payer_id", payerID))

	// Initiated
	discount, err := so.validate(ctx, cart, payerID)
	if err != nil {
		reason := "invalid_cart"
		if errors.Is(err, ErrInvalidDiscount) {
			reason = "invalid_discount"
		}
		return nil, so.fail(ctx, checkoutID, payerID, models.SagaInitiated, reason, err)
	}
	order := so.price(cart, discount)
	order.UserID = payerID

	// StockReserved
	reservation, err := so.catalog.ReserveStock(ctx, stockLines(cart.Items))
	if err != nil {
		reason := "reservation_error"
		switch {
		case errors.Is(err, ErrInsufficientStock):
			reason = "insufficient_stock"
		case errors.Is(err, ErrProductNotFound):
			reason = "unknown_product"
		}
		return nil, so.fail(ctx, checkoutID, payerID, models.SagaStockReserved, reason, err)
	}
	if discount != nil {
		if err := so.discounts.Hold(ctx, discount.Code); err != nil {
			so.compensate(ctx, log, reservation, nil)
			reason := "discount_hold_failed"
			if errors.Is(err, ErrInvalidDiscount) {
				reason = "invalid_discount"
			}
			return nil, so.fail(ctx, checkoutID, payerID, models.SagaStockReserved, reason, err)
		}
	}
	log.Debug("Saga state", zap.String("state", string(models.SagaStockReserved)))

	// OrderRecorded
	order.ID = uuid.New().String()
	order.Status = models.OrderStatusPending
	order.Date = so.now()
	if err := so.sales.CreateOrder(ctx, order); err != nil {
		so.compensate(ctx, log, reservation, discount)
		return nil, so.fail(ctx, checkoutID, payerID, models.SagaOrderRecorded, "order_record_failed", err)
	}
	util.OrdersCreatedTotal.Inc()
	log.Info("Order created", zap.String("order_id", order.ID), zap.String("total", order.Total.StringFixed(2)))

	// Completed: the order is committed, nothing below rolls it back
	for _, p := range reservation.Products {
		so.bus.Publish(ctx, models.TopicProductUpdated, p)
	}
	so.bus.Publish(ctx, models.TopicOrderCreated, order)

	if discount != nil {
		if err := so.discounts.Redeem(ctx, discount.Code); err != nil {
			so.advisory(ctx, log, checkoutID, payerID, order.ID, "discount_redeem_failed", err)
		}
	}

	return &order, nil
}

func (so *SagaOrchestrator) validate(ctx context.Context, cart CartSnapshot, payerID string) (*models.Discount, error) {
	if payerID == "" {
		return nil, ErrMissingPayerID
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidCart)
	}
	for _, item := range cart.Items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item without product", ErrInvalidCart)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for %s", ErrInvalidCart, item.Quantity, item.ProductID)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: negative price for %s", ErrInvalidCart, item.ProductID)
		}
	}

	if cart.DiscountCode == "" || so.discounts == nil {
		return nil, nil
	}
	return so.discounts.Resolve(ctx, cart.DiscountCode)
}

// price computes subtotal, discount, tax and total. Tax applies to the
// discounted subtotal and is rounded to cents.
func (so *SagaOrchestrator) price(cart CartSnapshot, discount *models.Discount) models.Order {
	items := make([]models.OrderItem, len(cart.Items))
	copy(items, cart.Items)

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	order := models.Order{
		Items:           items,
		Subtotal:        subtotal,
		Discount:        decimal.Zero,
		ShippingAddress: cart.ShippingAddress,
	}
	if discount != nil {
		order.DiscountCode = discount.Code
		order.Discount = discount.Amount(subtotal)
	}

	taxable := subtotal.Sub(order.Discount)
	order.Tax = taxable.Mul(so.taxRate).Round(2)
	order.Total = taxable.Add(order.Tax)
	return order
}

func stockLines(items []models.OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		l := StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
		if item.SelectedVariation != nil {
			l.VariationID = item.SelectedVariation.ID
		}
		lines = append(lines, l)
	}
	return lines
}

// compensate releases the reservation and any discount hold taken before
// the order could be recorded
func (so *SagaOrchestrator) compensate(ctx context.Context, log *zap.Logger, r *Reservation, discount *models.Discount) {
	log.Warn("Order not recorded, releasing reserved stock")
	util.StockCompensationsTotal.Inc()

	if err := so.catalog.ReleaseStock(ctx, r); err != nil {
		log.Error("Failed to release reserved stock", zap.Error(err))
	}
	if discount != nil {
		if err := so.discounts.Release(ctx, discount.Code); err != nil {
			log.Error("Failed to release discount hold", zap.String("code", discount.Code), zap.Error(err))
		}
	}
}

// fail publishes exactly one SAGA_FAILED and returns the caller's error
func (so *SagaOrchestrator) fail(ctx context.Context, checkoutID, payerID string, step models.SagaStep, reason string, err error) error {
	util.CheckoutFailedTotal.WithLabelValues(string(step), reason).Inc()
	so.logger.Warn("Checkout failed",
		zap.String("checkout_id", checkoutID),
		zap.String("step", string(step)),
		zap.String("reason", reason),
		zap.Error(err))

	so.bus.Publish(ctx, models.TopicSagaFailed, models.SagaFailedEvent{
		CheckoutID: checkoutID,
		PayerID:    payerID,
		Step:       step,
		Reason:     reason,
	})

	return &SagaFailure{CheckoutID: checkoutID, Step: step, Reason: reason, Err: err}
}

// advisory reports a post-commit failure without touching the order
func (so *SagaOrchestrator) advisory(ctx context.Context, log *zap.Logger, checkoutID, payerID, orderID, reason string, err error) {
	util.CheckoutAdvisoryFailuresTotal.WithLabelValues(reason).Inc()
	log.Error("Post-commit checkout step failed", zap.String("reason", reason), zap.Error(err))

	so.bus.Publish(ctx, models.TopicSagaFailed, models.SagaFailedEvent{
		CheckoutID: checkoutID,
		PayerID:    payerID,
		Step:       models.SagaCompleted,
		Reason:     reason,
		Committed:  true,
		OrderID:    orderID,
	})
}
