package flashsale

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Allocator finds active flash sale prices for order line items and screens
// requested quantities against remaining stock. The screen is advisory: the
// actual reservation is a conditional update executed by the usage ledger at
// commit time, and the store's rejection there is the sole conflict signal.
type Allocator struct {
	repo Repository
	now  func() time.Time
}

// NewAllocator creates an Allocator backed by the given repository.
func NewAllocator(repo Repository) *Allocator {
	return &Allocator{repo: repo, now: time.Now}
}

// Allocate returns a price override for every line item whose variant is in
// an active flash sale with enough remaining stock. Items failing the stock
// screen produce an InsufficientStockError each; overrides for the remaining
// items are still returned alongside the joined error so the caller can
// decide whether a partial failure aborts the order.
func (a *Allocator) Allocate(ctx context.Context, items []Item) ([]PriceOverride, error) {
	if len(items) == 0 {
		return nil, nil
	}

	variantIDs := make([]string, 0, len(items))
	for _, item := range items {
		variantIDs = append(variantIDs, item.VariantID)
	}

	products, err := a.repo.ActiveForVariants(ctx, variantIDs, a.now())
	if err != nil {
		return nil, fmt.Errorf("finding active flash sale products: %w", err)
	}

	byVariant := make(map[string]Product, len(products))
	for _, p := range products {
		byVariant[p.VariantID] = p
	}

	overrides := make([]PriceOverride, 0, len(items))
	var failures []error
	for _, item := range items {
		p, ok := byVariant[item.VariantID]
		if !ok {
			continue
		}
		if p.Remaining() < item.Quantity {
			failures = append(failures, &InsufficientStockError{
				VariantID: item.VariantID,
				Requested: item.Quantity,
				Remaining: p.Remaining(),
			})
			continue
		}
		overrides = append(overrides, PriceOverride{
			VariantID: item.VariantID,
			ProductID: p.ID,
			SaleID:    p.SaleID,
			UnitPrice: p.SalePrice,
			Quantity:  item.Quantity,
		})
	}

	return overrides, errors.Join(failures...)
}
