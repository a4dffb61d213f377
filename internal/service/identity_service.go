package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/google/uuid"
)

// IdentityService owns the users collection
type IdentityService struct {
	users *store.Collection[models.User]
	now   func() time.Time
}

func NewIdentityService(s store.Store) *IdentityService {
	return &IdentityService{
		users: store.NewCollection[models.User](s, models.CollectionUsers),
		now:   time.Now,
	}
}

// AddUser stores a new user. Emails are unique, case-insensitively.
func (is *IdentityService) AddUser(ctx context.Context, u *models.User) error {
	u.Email = strings.TrimSpace(u.Email)
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = "customer"
	}
	u.CreatedAt = is.now()

	return is.users.Update(ctx, func(items []models.User) ([]models.User, error) {
		for _, existing := range items {
			if existing.ID == u.ID || (u.Email != "" && strings.EqualFold(existing.Email, u.Email)) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateUser, u.Email)
			}
		}
		return []models.User{*u}, nil
	})
}

func (is *IdentityService) GetUsers(ctx context.Context) ([]models.User, error) {
	return is.users.All(ctx)
}

func (is *IdentityService) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := is.users.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
