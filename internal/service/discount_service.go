package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/store"
)

// DiscountService owns the discounts collection
type DiscountService struct {
	discounts *store.Collection[models.Discount]
}

func NewDiscountService(s store.Store) *DiscountService {
	return &DiscountService{
		discounts: store.NewCollection[models.Discount](s, models.CollectionDiscounts),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// UpsertDiscount stores a discount code
func (ds *DiscountService) UpsertDiscount(ctx context.Context, d models.Discount) error {
	d.Code = normalizeCode(d.Code)
	if d.Code == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidDiscount)
	}
	return ds.discounts.Put(ctx, d)
}

// GetDiscount returns a discount by code
func (ds *DiscountService) GetDiscount(ctx context.Context, code string) (*models.Discount, error) {
	d, err := ds.discounts.Get(ctx, normalizeCode(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDiscount, code)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Resolve returns the discount for code if it can be applied now
func (ds *DiscountService) Resolve(ctx context.Context, code string) (*models.Discount, error) {
	d, err := ds.GetDiscount(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := usable(*d); err != nil {
		return nil, err
	}
	return d, nil
}

// Hold claims one use of code for a checkout that has not committed yet.
// Held uses count against MaxUses, so two checkouts cannot both take the
// last use.
func (ds *DiscountService) Hold(ctx context.Context, code string) error {
	return ds.modify(ctx, code, func(d *models.Discount) error {
		if err := usable(*d); err != nil {
			return err
		}
		d.Held++
		return nil
	})
}

// Release returns a held use after its checkout failed
func (ds *DiscountService) Release(ctx context.Context, code string) error {
	return ds.modify(ctx, code, func(d *models.Discount) error {
		if d.Held > 0 {
			d.Held--
		}
		return nil
	})
}

// Redeem turns a held use into a counted one
func (ds *DiscountService) Redeem(ctx context.Context, code string) error {
	return ds.modify(ctx, code, func(d *models.Discount) error {
		if d.Held == 0 {
			return fmt.Errorf("%w: %s has no held use", ErrInvalidDiscount, d.Code)
		}
		d.Held--
		d.Uses++
		return nil
	})
}

func (ds *DiscountService) modify(ctx context.Context, code string, fn func(d *models.Discount) error) error {
	code = normalizeCode(code)
	return ds.discounts.Update(ctx, func(items []models.Discount) ([]models.Discount, error) {
		for _, d := range items {
			if d.Code != code {
				continue
			}
			if err := fn(&d); err != nil {
				return nil, err
			}
			return []models.Discount{d}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDiscount, code)
	})
}

func usable(d models.Discount) error {
	if !d.Active {
		return fmt.Errorf("%w: %s is inactive", ErrInvalidDiscount, d.Code)
	}
	if d.MaxUses > 0 && d.Uses+d.Held >= d.MaxUses {
		return fmt.Errorf("%w: %s is used up", ErrInvalidDiscount, d.Code)
	}
	return nil
}
