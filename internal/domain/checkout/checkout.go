// Package checkout evaluates discounts for an order: flash sale price
// overrides first, then coupon-style promotions, then a pure aggregation
// step, then one transactional ledger commit.
package checkout

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order validation and evaluation.
var (
	ErrEmptyItems = errors.New("items required")
	// ErrTimeout is returned when the caller-supplied deadline expired
	// before evaluation or commit completed. Nothing was committed.
	ErrTimeout = errors.New("evaluation deadline exceeded")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	VariantID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for variant %s", e.VariantID)
}

// InvalidPriceError indicates a line item carries a negative snapshot price.
type InvalidPriceError struct {
	VariantID string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("negative unit price for variant %s", e.VariantID)
}

// LineItem is a validated order item candidate supplied by the
// order-creation flow. Name, SKU, and unit price are snapshots fixed at
// order-creation time so historical orders are immune to later catalog
// changes.
type LineItem struct {
	ProductID   string
	VariantID   string
	ProductName string
	SKU         string
	CategoryID  string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Order is the evaluation input: line items, the acting user, and zero or
// more submitted promotion codes.
type Order struct {
	ID             string
	UserID         string
	Items          []LineItem
	PromotionCodes []string
}

// ItemBreakdown is the per-line outcome: the effective unit price (post
// flash override) and the line's share of the order discount.
type ItemBreakdown struct {
	ProductID   string
	VariantID   string
	ProductName string
	SKU         string
	// UnitPrice is the price the line is charged at: the flash sale price
	// when an override applied, otherwise the order-creation snapshot.
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
	Discount  decimal.Decimal
	FlashSale bool
}

// Breakdown is the order-level discount summary produced by aggregation.
type Breakdown struct {
	Items []ItemBreakdown
	// Subtotal is the sum of line totals at effective unit prices, before
	// the promotion discount.
	Subtotal decimal.Decimal
	// Discount is the promotion discount applied on top of flash pricing.
	Discount decimal.Decimal
	Total    decimal.Decimal
	// AppliedPromotion is the honored promotion code, empty when none.
	AppliedPromotion string
	FreeShipping     bool
	EvaluatedAt      time.Time
}
