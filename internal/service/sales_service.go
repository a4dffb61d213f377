package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// SalesService owns the orders collection. Orders are never deleted.
type SalesService struct {
	orders *store.Collection[models.Order]
	logger *zap.Logger
}

// NewSalesService creates a new sales service
func NewSalesService(s store.Store, logger *zap.Logger) *SalesService {
	return &SalesService{
		orders: store.NewCollection[models.Order](s, models.CollectionOrders),
		logger: util.LoggerOrDefault(logger),
	}
}

// CreateOrder persists a new order
func (ss *SalesService) CreateOrder(ctx context.Context, order models.Order) error {
	if err := ss.orders.Put(ctx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	ss.logger.Info("Order recorded", zap.String("order_id", order.ID))
	return nil
}

// UpdateOrder replaces an existing order
func (ss *SalesService) UpdateOrder(ctx context.Context, order models.Order) error {
	return ss.orders.Update(ctx, func(items []models.Order) ([]models.Order, error) {
		for _, o := range items {
			if o.ID == order.ID {
				return []models.Order{order}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	})
}

// TransitionStatus moves an order to next and returns the updated order
// together with its previous status.
func (ss *SalesService) TransitionStatus(ctx context.Context, orderID string, next models.OrderStatus) (*models.Order, models.OrderStatus, error) {
	var updated models.Order
	var prev models.OrderStatus

	err := ss.orders.Update(ctx, func(items []models.Order) ([]models.Order, error) {
		for _, o := range items {
			if o.ID != orderID {
				continue
			}
			if !o.Status.CanTransitionTo(next) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
			}
			prev = o.Status
			o.Status = next
			updated = o
			return []models.Order{o}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	})
	if err != nil {
		return nil, "", err
	}
	return &updated, prev, nil
}

// GetOrder retrieves an order by ID
func (ss *SalesService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := ss.orders.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrders returns every order, newest first
func (ss *SalesService) GetOrders(ctx context.Context) ([]models.Order, error) {
	all, err := ss.orders.All(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(all)
	return all, nil
}

// GetOrdersByUser returns a user's orders, newest first
func (ss *SalesService) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	all, err := ss.orders.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Order, 0)
	for _, o := range all {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Date.After(orders[j].Date) })
}
