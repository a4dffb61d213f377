package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/google/uuid"
)

// MarketingService owns the marketing-events collection: newsletter
// sign-ups and tracked customer interactions.
type MarketingService struct {
	events *store.Collection[models.MarketingEvent]
	now    func() time.Time
}

func NewMarketingService(s store.Store) *MarketingService {
	return &MarketingService{
		events: store.NewCollection[models.MarketingEvent](s, models.CollectionMarketingEvents),
		now:    time.Now,
	}
}

// SubscribeToNewsletter records a sign-up. Subscribing the same email
// twice keeps the first record.
func (ms *MarketingService) SubscribeToNewsletter(ctx context.Context, email, userID string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("newsletter email is required")
	}

	return ms.events.Update(ctx, func(items []models.MarketingEvent) ([]models.MarketingEvent, error) {
		for _, e := range items {
			if e.Kind == models.MarketingKindNewsletter && e.Email == email {
				return nil, nil
			}
		}
		return []models.MarketingEvent{{
			ID:        uuid.New().String(),
			Kind:      models.MarketingKindNewsletter,
			UserID:    userID,
			Email:     email,
			CreatedAt: ms.now(),
		}}, nil
	})
}

// TrackEvent appends an interaction
func (ms *MarketingService) TrackEvent(ctx context.Context, kind, userID string, data map[string]string) error {
	return ms.events.Put(ctx, models.MarketingEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		UserID:    userID,
		Data:      data,
		CreatedAt: ms.now(),
	})
}

// GetEvents returns tracked events, optionally filtered by kind
func (ms *MarketingService) GetEvents(ctx context.Context, kind string) ([]models.MarketingEvent, error) {
	all, err := ms.events.All(ctx)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return all, nil
	}

	out := make([]models.MarketingEvent, 0)
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}
