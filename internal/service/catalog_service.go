package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockLine is one quantity to take from a product or one of its variations.
type StockLine struct {
	ProductID   string
	VariationID string
	Quantity    int
}

func (l StockLine) key() string {
	return l.ProductID + "/" + l.VariationID
}

// Reservation records stock taken by ReserveStock so it can be released.
// Products holds the post-reservation state of every touched product.
type Reservation struct {
	Lines    []StockLine
	Products []models.Product
}

// CatalogService owns the products collection and the reviews kept with it
type CatalogService struct {
	products *store.Collection[models.Product]
	reviews  *store.Collection[models.Review]
	logger   *zap.Logger
	now      func() time.Time
}

// NewCatalogService creates a new catalog service
func NewCatalogService(s store.Store, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		products: store.NewCollection[models.Product](s, models.CollectionProducts),
		reviews:  store.NewCollection[models.Review](s, models.CollectionReviews),
		logger:   util.LoggerOrDefault(logger),
		now:      time.Now,
	}
}

// GetProducts returns every product
func (cs *CatalogService) GetProducts(ctx context.Context) ([]models.Product, error) {
	return cs.products.All(ctx)
}

// GetProduct returns one product
func (cs *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := cs.products.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct inserts a product or replaces the editable fields of an
// existing one. Stock on existing products and variations is owned by
// ReserveStock, ReleaseStock and AdjustStock, so the stored quantities win
// over whatever p carries. p is updated to the saved state.
func (cs *CatalogService) UpdateProduct(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	return cs.products.Update(ctx, func(items []models.Product) ([]models.Product, error) {
		next := *p
		next.Variations = append([]models.Variation(nil), p.Variations...)
		for i := range items {
			if items[i].ID != next.ID {
				continue
			}
			current := &items[i]
			next.Stock = current.Stock
			for j := range next.Variations {
				if v, ok := current.Variation(next.Variations[j].ID); ok {
					next.Variations[j].Stock = v.Stock
				}
			}
			break
		}
		next.UpdatedAt = cs.now()
		*p = next
		return []models.Product{next}, nil
	})
}

// AdjustStock adds delta to the stock of a product, or of one of its
// variations when variationID is set. Stock never goes below zero.
func (cs *CatalogService) AdjustStock(ctx context.Context, productID, variationID string, delta int) (*models.Product, error) {
	var updated models.Product
	err := cs.products.Update(ctx, func(items []models.Product) ([]models.Product, error) {
		for i := range items {
			if items[i].ID != productID {
				continue
			}
			p := &items[i]
			stock := &p.Stock
			if variationID != "" {
				v, ok := p.Variation(variationID)
				if !ok {
					return nil, fmt.Errorf("%w: %s variation %s", ErrProductNotFound, productID, variationID)
				}
				stock = &v.Stock
			}
			if *stock+delta < 0 {
				return nil, fmt.Errorf("%w: %s would drop to %d", ErrInvalidStock, productID, *stock+delta)
			}
			*stock += delta
			p.UpdatedAt = cs.now()
			updated = *p
			return []models.Product{updated}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	})
	if err != nil {
		return nil, err
	}

	cs.logger.Info("Stock adjusted",
		zap.String("product_id", productID),
		zap.String("variation_id", variationID),
		zap.Int("delta", delta))
	return &updated, nil
}

// PriceCart checks every cart line against the catalog and returns the
// lines with catalog names and unit prices. A plan price wins over a
// variation price, which wins over the product price. A line whose price
// differs from the catalog fails with ErrPriceChanged so the shopper can
// refresh the cart. Lines naming unknown products or variations are passed
// through untouched; checkout rejects them when it reserves stock.
func (cs *CatalogService) PriceCart(ctx context.Context, items []models.OrderItem) ([]models.OrderItem, error) {
	products, err := cs.products.All(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(products))
	for i := range products {
		index[products[i].ID] = i
	}

	priced := make([]models.OrderItem, len(items))
	for n, item := range items {
		priced[n] = item
		i, ok := index[item.ProductID]
		if !ok {
			continue
		}
		p := &products[i]

		unit := p.Price
		if item.SelectedVariation != nil {
			v, ok := p.Variation(item.SelectedVariation.ID)
			if !ok {
				continue
			}
			item.SelectedVariation = &models.VariationRef{ID: v.ID, Name: v.Name}
			if v.Price != nil {
				unit = *v.Price
			}
		}
		if item.SelectedPlan != nil {
			plan, ok := findPlan(p.Plans, item.SelectedPlan.ID)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no plan %s", ErrInvalidCart, p.ID, item.SelectedPlan.ID)
			}
			item.SelectedPlan = &plan
			unit = plan.Price
		}

		if !item.Price.Equal(unit) {
			return nil, fmt.Errorf("%w: %s is %s, cart has %s",
				ErrPriceChanged, p.ID, unit.StringFixed(2), item.Price.StringFixed(2))
		}
		item.Name = p.Name
		item.Price = unit
		priced[n] = item
	}
	return priced, nil
}

func findPlan(plans []models.SubscriptionPlan, id string) (models.SubscriptionPlan, bool) {
	for _, plan := range plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return models.SubscriptionPlan{}, false
}

// DeleteProduct removes a product
func (cs *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	return cs.products.Delete(ctx, id)
}

// ReserveStock decrements stock for every line, or for none of them.
// Lines naming the same product and variation are summed before the check.
func (cs *CatalogService) ReserveStock(ctx context.Context, lines []StockLine) (*Reservation, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ReserveStock")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	requested := make(map[string]StockLine)
	var order []string
	for _, l := range lines {
		k := l.key()
		agg, seen := requested[k]
		if !seen {
			order = append(order, k)
			agg = StockLine{ProductID: l.ProductID, VariationID: l.VariationID}
		}
		agg.Quantity += l.Quantity
		requested[k] = agg
	}

	reservation := &Reservation{Lines: lines}

	err := cs.products.Update(ctx, func(items []models.Product) ([]models.Product, error) {
		index := make(map[string]int, len(items))
		for i := range items {
			index[items[i].ID] = i
		}

		// validate everything before touching anything
		for _, k := range order {
			l := requested[k]
			i, ok := index[l.ProductID]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, l.ProductID)
			}
			available := items[i].Stock
			if l.VariationID != "" {
				v, ok := items[i].Variation(l.VariationID)
				if !ok {
					return nil, fmt.Errorf("%w: %s variation %s", ErrProductNotFound, l.ProductID, l.VariationID)
				}
				available = v.Stock
			}
			if available < l.Quantity {
				return nil, &InsufficientStockError{
					ProductID:   l.ProductID,
					VariationID: l.VariationID,
					Requested:   l.Quantity,
					Available:   available,
				}
			}
		}

		touched := make(map[string]bool)
		var changed []models.Product
		now := cs.now()
		for _, k := range order {
			l := requested[k]
			p := &items[index[l.ProductID]]
			if l.VariationID != "" {
				v, _ := p.Variation(l.VariationID)
				v.Stock -= l.Quantity
			} else {
				p.Stock -= l.Quantity
			}
			p.UpdatedAt = now
			touched[p.ID] = true
		}
		for _, p := range items {
			if touched[p.ID] {
				changed = append(changed, p)
			}
		}
		reservation.Products = changed
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	cs.logger.Debug("Stock reserved", zap.Int("lines", len(lines)))
	return reservation, nil
}

// ReleaseStock returns reserved quantities to stock. Products deleted
// since the reservation are skipped.
func (cs *CatalogService) ReleaseStock(ctx context.Context, r *Reservation) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.ReleaseStock")
	defer span.End()

	if r == nil || len(r.Lines) == 0 {
		return nil
	}

	return cs.products.Update(ctx, func(items []models.Product) ([]models.Product, error) {
		index := make(map[string]int, len(items))
		for i := range items {
			index[items[i].ID] = i
		}

		touched := make(map[string]bool)
		for _, l := range r.Lines {
			i, ok := index[l.ProductID]
			if !ok {
				cs.logger.Warn("Product vanished before stock release",
					zap.String("product_id", l.ProductID))
				continue
			}
			p := &items[i]
			if l.VariationID != "" {
				v, ok := p.Variation(l.VariationID)
				if !ok {
					continue
				}
				v.Stock += l.Quantity
			} else {
				p.Stock += l.Quantity
			}
			touched[p.ID] = true
		}

		var changed []models.Product
		for _, p := range items {
			if touched[p.ID] {
				changed = append(changed, p)
			}
		}
		return changed, nil
	})
}

// AddReview stores a product review
func (cs *CatalogService) AddReview(ctx context.Context, r *models.Review) error {
	if r.ProductID == "" || r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("%w: rating must be 1-5 and product set", ErrInvalidReview)
	}
	if _, err := cs.GetProduct(ctx, r.ProductID); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Comment = strings.TrimSpace(r.Comment)
	r.CreatedAt = cs.now()
	return cs.reviews.Put(ctx, *r)
}

// GetReviews returns the reviews of a product, newest first
func (cs *CatalogService) GetReviews(ctx context.Context, productID string) ([]models.Review, error) {
	all, err := cs.reviews.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Review, 0)
	for _, r := range all {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
