package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promotion discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the
	// applicable subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount applies a fixed monetary discount capped at the
	// applicable subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount_order"
	// DiscountFreeShipping waives the shipping cost. It contributes nothing
	// to the monetary discount; the flag is consumed by the shipping layer.
	DiscountFreeShipping DiscountType = "free_shipping"
)

var (
	// ErrNotFound is returned when a promotion code does not exist.
	ErrNotFound = errors.New("promotion not found")
	// ErrInactive is returned when a promotion is disabled or outside its
	// validity window.
	ErrInactive = errors.New("promotion not active")
	// ErrMinimumNotMet is returned when the applicable subtotal is below the
	// promotion's minimum order value.
	ErrMinimumNotMet = errors.New("minimum order value not met")
	// ErrGlobalCapReached is returned when the promotion has exhausted its
	// global usage limit.
	ErrGlobalCapReached = errors.New("promotion usage limit reached")
	// ErrPerUserCapReached is returned when the acting user has exhausted
	// their personal usage limit for the promotion.
	ErrPerUserCapReached = errors.New("promotion per-user limit reached")
)

// Promotion defines a coupon-style discount with eligibility constraints.
// CurrentUsageCount is read-only during evaluation; it is incremented solely
// by the usage ledger's transactional commit.
type Promotion struct {
	Code              string
	DiscountType      DiscountType
	Value             decimal.Decimal
	MinimumOrderValue decimal.Decimal
	MaxUsageLimit     int // 0 means unlimited
	UsageLimitPerUser int // 0 means unlimited
	CurrentUsageCount int
	StartsAt          *time.Time
	EndsAt            *time.Time
	Active            bool
	Rules             []ApplicabilityRule
}

// WindowContains reports whether now falls inside the promotion's validity
// window. Nil bounds are open.
func (p *Promotion) WindowContains(now time.Time) bool {
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return false
	}
	return true
}

// Item represents an order line item for applicability and discount
// calculation purposes.
type Item struct {
	ProductID  string
	VariantID  string
	CategoryID string
	Price      decimal.Decimal
	Quantity   int
}

// LineTotal returns price multiplied by quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Context carries the order-side inputs needed to resolve a promotion.
type Context struct {
	UserID string
	Items  []Item
}

// Repository provides lookup of promotions and their applicability rules.
type Repository interface {
	// FindByCode returns the promotion with the given code, including its
	// applicability rules. Returns ErrNotFound when no such promotion exists.
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	// ListCodes returns every known promotion code. Used to warm the
	// code prefilter at startup.
	ListCodes(ctx context.Context) ([]string, error)
}

// RedemptionCounter reports how many times a user has already redeemed a
// promotion. Implemented by the usage ledger.
type RedemptionCounter interface {
	UserRedemptions(ctx context.Context, code, userID string) (int, error)
}

// CategoryLookup resolves a category to its lineage (the category itself
// plus all ancestor categories). Supplied by the catalog collaborator.
type CategoryLookup interface {
	Lineage(ctx context.Context, categoryID string) ([]string, error)
}
