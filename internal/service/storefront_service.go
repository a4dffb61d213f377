package service

import (
	"context"
	"fmt"

	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/textgen"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// StorefrontService runs the non-checkout mutations and publishes the
// event each one implies; the adapters it calls never publish.
type StorefrontService struct {
	catalog             *CatalogService
	sales               *SalesService
	identity            *IdentityService
	bus                 *bus.Bus
	writer              *textgen.Safe
	fallbackDescription string
	logger              *zap.Logger
}

func NewStorefrontService(
	catalog *CatalogService,
	sales *SalesService,
	identity *IdentityService,
	eventBus *bus.Bus,
	writer *textgen.Safe,
	fallbackDescription string,
	logger *zap.Logger,
) *StorefrontService {
	return &StorefrontService{
		catalog:             catalog,
		sales:               sales,
		identity:            identity,
		bus:                 eventBus,
		writer:              writer,
		fallbackDescription: fallbackDescription,
		logger:              util.LoggerOrDefault(logger),
	}
}

// UpdateProduct saves a product and publishes PRODUCT_UPDATED
func (s *StorefrontService) UpdateProduct(ctx context.Context, p *models.Product) error {
	if err := s.catalog.UpdateProduct(ctx, p); err != nil {
		return err
	}
	s.bus.Publish(ctx, models.TopicProductUpdated, *p)
	return nil
}

// AdjustStock restocks or writes off a product and publishes PRODUCT_UPDATED
func (s *StorefrontService) AdjustStock(ctx context.Context, productID, variationID string, delta int) (*models.Product, error) {
	p, err := s.catalog.AdjustStock(ctx, productID, variationID, delta)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, models.TopicProductUpdated, *p)
	return p, nil
}

// RegisterUser stores a user and publishes USER_REGISTERED
func (s *StorefrontService) RegisterUser(ctx context.Context, u *models.User) error {
	if err := s.identity.AddUser(ctx, u); err != nil {
		return err
	}
	s.logger.Info("User registered", zap.String("user_id", u.ID))
	s.bus.Publish(ctx, models.TopicUserRegistered, *u)
	return nil
}

// UpdateOrderStatus moves an order along its lifecycle and publishes
// ORDER_STATUS_CHANGED
func (s *StorefrontService) UpdateOrderStatus(ctx context.Context, orderID string, next models.OrderStatus) (*models.Order, error) {
	order, prev, err := s.sales.TransitionStatus(ctx, orderID, next)
	if err != nil {
		return nil, err
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(next)).Inc()
	s.bus.Publish(ctx, models.TopicOrderStatusChanged, models.OrderStatusChangedEvent{
		OrderID: order.ID,
		UserID:  order.UserID,
		From:    prev,
		To:      next,
	})
	return order, nil
}

// GenerateDescription drafts marketing copy for a product. It never fails
// because of the generator, only because of a missing product.
func (s *StorefrontService) GenerateDescription(ctx context.Context, productID string) (string, error) {
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Write a short, friendly product description for %q in category %q priced at %s.",
		p.Name, p.Category, p.Price.StringFixed(2))
	return s.writer.Generate(ctx, prompt, s.fallbackDescription), nil
}
