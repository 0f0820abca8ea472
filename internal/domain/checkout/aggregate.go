package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/storely/promo-engine/internal/domain/flashsale"
	"github.com/storely/promo-engine/internal/domain/promotion"
)

// StackingPolicy resolves conflicts between simultaneous discount
// mechanisms.
type StackingPolicy struct {
	// StackOnFlashPrices lets percentage and fixed-amount promotions apply
	// to line items already discounted by a flash sale price override. Off
	// by default: a flash-priced unit is never discounted twice.
	StackOnFlashPrices bool
}

// Aggregate combines flash sale price overrides and promotion applications
// into the final per-order discount breakdown. It is a pure function of its
// inputs.
//
// Flash overrides apply first and are structural: the line's unit price
// becomes the sale price. Among non-free-shipping applications only one is
// honored, the one with the largest absolute discount; ties break by the
// earliest window start. Free shipping applications always stack and never
// conflict with pricing promotions.
func Aggregate(items []LineItem, overrides []flashsale.PriceOverride, apps []promotion.Application, policy StackingPolicy) Breakdown {
	overrideByVariant := make(map[string]flashsale.PriceOverride, len(overrides))
	for _, o := range overrides {
		overrideByVariant[o.VariantID] = o
	}

	winner, freeShipping := pickWinner(apps)

	// Per-line effective prices and order subtotal.
	bd := Breakdown{
		Items:        make([]ItemBreakdown, 0, len(items)),
		Subtotal:     decimal.Zero,
		Discount:     decimal.Zero,
		FreeShipping: freeShipping,
	}
	for _, item := range items {
		unitPrice := item.UnitPrice
		_, flash := overrideByVariant[item.VariantID]
		if flash {
			unitPrice = overrideByVariant[item.VariantID].UnitPrice
		}
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)

		bd.Items = append(bd.Items, ItemBreakdown{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			UnitPrice:   unitPrice,
			Quantity:    item.Quantity,
			LineTotal:   lineTotal,
			FlashSale:   flash,
		})
		bd.Subtotal = bd.Subtotal.Add(lineTotal)
	}

	if winner != nil {
		bd.AppliedPromotion = winner.Code
		distribute(bd.Items, winner, overrideByVariant, policy)
		for i := range bd.Items {
			bd.Discount = bd.Discount.Add(bd.Items[i].Discount)
		}
	}

	bd.Total = bd.Subtotal.Sub(bd.Discount)
	if bd.Total.IsNegative() {
		bd.Total = decimal.Zero
	}
	bd.Total = bd.Total.Round(2)

	return bd
}

// pickWinner selects the single honored pricing promotion and folds the
// free-shipping flags. Largest absolute discount wins; ties break by the
// earliest window start, then by code for full determinism.
func pickWinner(apps []promotion.Application) (*promotion.Application, bool) {
	var winner *promotion.Application
	freeShipping := false

	for i := range apps {
		app := &apps[i]
		if app.FreeShipping {
			freeShipping = true
		}
		if app.DiscountType == promotion.DiscountFreeShipping {
			continue
		}
		if winner == nil || beats(app, winner) {
			winner = app
		}
	}
	return winner, freeShipping
}

func beats(a, b *promotion.Application) bool {
	switch a.Amount.Cmp(b.Amount) {
	case 1:
		return true
	case -1:
		return false
	}
	if !a.StartsAt.Equal(b.StartsAt) {
		return a.StartsAt.Before(b.StartsAt)
	}
	return a.Code < b.Code
}

// distribute splits the winner's discount across its applicable lines
// proportionally by line total, assigning the rounding remainder to the
// last eligible line so the per-line amounts reconcile exactly with the
// resolved order-level discount. Each line's share is capped at its line
// total.
func distribute(items []ItemBreakdown, winner *promotion.Application, overrideByVariant map[string]flashsale.PriceOverride, policy StackingPolicy) {
	applicable := make(map[string]bool, len(winner.VariantIDs))
	for _, id := range winner.VariantIDs {
		applicable[id] = true
	}

	eligible := make([]int, 0, len(items))
	total := decimal.Zero
	for i := range items {
		if !applicable[items[i].VariantID] {
			continue
		}
		if items[i].FlashSale && !policy.StackOnFlashPrices {
			continue
		}
		eligible = append(eligible, i)
		total = total.Add(items[i].LineTotal)
	}
	if len(eligible) == 0 || !total.IsPositive() {
		return
	}

	remaining := winner.Amount
	for n, i := range eligible {
		var share decimal.Decimal
		if n == len(eligible)-1 {
			share = remaining
		} else {
			share = winner.Amount.Mul(items[i].LineTotal).Div(total).Round(2)
		}
		share = decimal.Min(share, items[i].LineTotal)
		items[i].Discount = share
		remaining = remaining.Sub(share)
	}
}
