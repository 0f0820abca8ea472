package flashsale

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sale is a time-boxed flash sale owning a set of discounted variants.
type Sale struct {
	ID       string
	Name     string
	StartsAt time.Time
	EndsAt   time.Time
	Active   bool
}

// Product is a single variant's participation in a flash sale: an override
// price and a finite stock for the sale's duration. QuantitySold is
// monotonic and never exceeds QuantityLimit; it is mutated only through the
// usage ledger's conditional update, never during evaluation.
type Product struct {
	ID            string
	SaleID        string
	VariantID     string
	SalePrice     decimal.Decimal
	QuantityLimit int
	QuantitySold  int
}

// Remaining returns the unreserved flash stock.
func (p Product) Remaining() int {
	return p.QuantityLimit - p.QuantitySold
}

// Item is an order line item presented for allocation.
type Item struct {
	VariantID string
	Quantity  int
}

// PriceOverride records that a line item's effective unit price becomes the
// flash sale price, pending a stock reservation at commit time.
type PriceOverride struct {
	VariantID string
	ProductID string // flash sale product row, target of the stock reservation
	SaleID    string
	UnitPrice decimal.Decimal
	Quantity  int
}

// InsufficientStockError indicates the flash stock remaining for one variant
// cannot cover the requested quantity. Other line items may still allocate;
// whether a partial failure aborts the order is the caller's policy.
type InsufficientStockError struct {
	VariantID string
	Requested int
	Remaining int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient flash stock for variant %s: requested %d, remaining %d",
		e.VariantID, e.Requested, e.Remaining)
}

// Repository provides lookup of flash sale products for allocation.
type Repository interface {
	// ActiveForVariants returns the flash sale products covering any of the
	// given variants whose sale is active and whose window contains now.
	// Variants not on sale are simply absent from the result.
	ActiveForVariants(ctx context.Context, variantIDs []string, now time.Time) ([]Product, error)
}
