package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Application is the outcome of a successful resolution: a discount amount
// bound to the line items the promotion's rules permit. It carries no side
// effects; the matching redemption is recorded later by the usage ledger.
type Application struct {
	Code         string
	DiscountType DiscountType
	// Amount is the monetary discount rounded to the currency's minor unit.
	// Always zero for free shipping promotions.
	Amount decimal.Decimal
	// FreeShipping is set for free_shipping promotions and consumed by the
	// shipping collaborator.
	FreeShipping bool
	// VariantIDs identifies the applicable line items, for per-line
	// discount distribution.
	VariantIDs []string
	// StartsAt is the promotion window start, used as the stacking
	// tie-breaker. Zero when the window has no lower bound.
	StartsAt time.Time
}

// Resolver determines promotion eligibility and computes discount amounts.
// Resolution is read-only: counters are checked but never mutated here.
type Resolver struct {
	repo        Repository
	redemptions RedemptionCounter
	categories  CategoryLookup
	now         func() time.Time
}

// NewResolver creates a Resolver. categories may be nil when the catalog has
// a flat category tree; items then match category rules on their own
// category id only.
func NewResolver(repo Repository, redemptions RedemptionCounter, categories CategoryLookup) *Resolver {
	return &Resolver{
		repo:        repo,
		redemptions: redemptions,
		categories:  categories,
		now:         time.Now,
	}
}

// Resolve looks up the promotion for code and checks, in order: existence,
// active state and validity window, minimum order value over the applicable
// subtotal, the global usage cap, and the per-user cap. On success it returns
// the computed Application.
func (r *Resolver) Resolve(ctx context.Context, code string, order Context) (*Application, error) {
	promo, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}

	now := r.now()
	if !promo.Active || !promo.WindowContains(now) {
		return nil, ErrInactive
	}

	applicable, err := r.applicableItems(ctx, promo, order)
	if err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	variantIDs := make([]string, 0, len(applicable))
	for _, item := range applicable {
		subtotal = subtotal.Add(item.LineTotal())
		variantIDs = append(variantIDs, item.VariantID)
	}

	if promo.MinimumOrderValue.IsPositive() && subtotal.LessThan(promo.MinimumOrderValue) {
		return nil, ErrMinimumNotMet
	}

	if promo.MaxUsageLimit > 0 && promo.CurrentUsageCount >= promo.MaxUsageLimit {
		return nil, ErrGlobalCapReached
	}

	if promo.UsageLimitPerUser > 0 {
		prior, err := r.redemptions.UserRedemptions(ctx, code, order.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count user redemptions")
		}
		if prior >= promo.UsageLimitPerUser {
			return nil, ErrPerUserCapReached
		}
	}

	amount, freeShipping, err := computeDiscount(promo, subtotal)
	if err != nil {
		return nil, err
	}

	return &Application{
		Code:         promo.Code,
		DiscountType: promo.DiscountType,
		Amount:       amount,
		FreeShipping: freeShipping,
		VariantIDs:   variantIDs,
		StartsAt:     windowStart(promo),
	}, nil
}

// applicableItems filters the order's items through the promotion's rules,
// resolving each item's category lineage once per distinct category.
func (r *Resolver) applicableItems(ctx context.Context, promo *Promotion, order Context) ([]Item, error) {
	lineages := make(map[string][]string)
	applicable := make([]Item, 0, len(order.Items))

	for _, item := range order.Items {
		categories, ok := lineages[item.CategoryID]
		if !ok {
			var err error
			categories, err = r.lineage(ctx, item.CategoryID)
			if err != nil {
				return nil, errors.Wrap(err, "resolve category lineage")
			}
			lineages[item.CategoryID] = categories
		}

		if Applicable(promo.Rules, item, categories, order.UserID) {
			applicable = append(applicable, item)
		}
	}
	return applicable, nil
}

func (r *Resolver) lineage(ctx context.Context, categoryID string) ([]string, error) {
	if categoryID == "" {
		return nil, nil
	}
	if r.categories == nil {
		return []string{categoryID}, nil
	}
	return r.categories.Lineage(ctx, categoryID)
}

// computeDiscount finalizes the monetary discount for the applicable
// subtotal. Rounding to two places happens only here, never on intermediate
// values.
func computeDiscount(promo *Promotion, subtotal decimal.Decimal) (decimal.Decimal, bool, error) {
	switch promo.DiscountType {
	case DiscountPercentage:
		amount := subtotal.Mul(promo.Value).Div(hundred)
		amount = decimal.Min(amount, subtotal)
		return clampAtZero(amount).Round(2), false, nil
	case DiscountFixedAmount:
		amount := decimal.Min(promo.Value, subtotal)
		return clampAtZero(amount).Round(2), false, nil
	case DiscountFreeShipping:
		return decimal.Zero, true, nil
	default:
		return decimal.Zero, false, errors.Errorf("unsupported discount type: %q", promo.DiscountType)
	}
}

func windowStart(promo *Promotion) time.Time {
	if promo.StartsAt == nil {
		return time.Time{}
	}
	return *promo.StartsAt
}

func clampAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
