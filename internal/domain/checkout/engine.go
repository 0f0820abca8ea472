package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/storely/promo-engine/internal/domain/flashsale"
	"github.com/storely/promo-engine/internal/domain/ledger"
	"github.com/storely/promo-engine/internal/domain/promotion"
)

// defaultCommitAttempts bounds the evaluate+commit retry cycle on commit
// conflicts.
const defaultCommitAttempts = 3

// Allocator screens order items against active flash sales.
type Allocator interface {
	Allocate(ctx context.Context, items []flashsale.Item) ([]flashsale.PriceOverride, error)
}

// Resolver determines promotion eligibility and discount amounts.
type Resolver interface {
	Resolve(ctx context.Context, code string, order promotion.Context) (*promotion.Application, error)
}

// Engine runs the full discount pipeline for an order: flash sale
// allocation, promotion resolution, aggregation, and the ledger commit.
type Engine struct {
	allocator Allocator
	resolver  Resolver
	ledger    ledger.Ledger
	policy    StackingPolicy
	attempts  int
	now       func() time.Time
}

// Option adjusts Engine construction.
type Option func(*Engine)

// WithStackingPolicy overrides the default stacking policy.
func WithStackingPolicy(policy StackingPolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithCommitAttempts sets how many evaluate+commit cycles to run before
// giving up on commit conflicts.
func WithCommitAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// NewEngine creates an Engine with the required collaborators.
func NewEngine(allocator Allocator, resolver Resolver, ldg ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		allocator: allocator,
		resolver:  resolver,
		ledger:    ldg,
		attempts:  defaultCommitAttempts,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Quote evaluates the order without committing anything. The returned
// breakdown is what Place would commit if nothing shifts in the meantime.
func (e *Engine) Quote(ctx context.Context, order Order) (*Breakdown, error) {
	bd, _, err := e.evaluate(ctx, order)
	if err != nil {
		return nil, e.mapDeadline(ctx, err)
	}
	return bd, nil
}

// Place evaluates the order and commits the result through the usage
// ledger. On a commit conflict the full cycle re-runs, because stock and
// caps may have changed between evaluation and commit; terminal eligibility
// errors are returned to the caller as typed values and are never retried.
func (e *Engine) Place(ctx context.Context, order Order) (*Breakdown, error) {
	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		bd, req, err := e.evaluate(ctx, order)
		if err != nil {
			return nil, e.mapDeadline(ctx, err)
		}

		if err := e.ledger.Commit(ctx, *req); err != nil {
			if errors.Is(err, ledger.ErrCommitConflict) {
				lastErr = err
				continue
			}
			return nil, e.mapDeadline(ctx, errors.Wrap(err, "commit usage ledger"))
		}
		return bd, nil
	}
	return nil, fmt.Errorf("commit retries exhausted after %d attempts: %w", e.attempts, lastErr)
}

// evaluate runs the side-effect-free part of the pipeline and builds the
// commit request that would make its outcome durable.
func (e *Engine) evaluate(ctx context.Context, order Order) (*Breakdown, *ledger.CommitRequest, error) {
	if err := validate(order); err != nil {
		return nil, nil, err
	}

	// Flash sale price overrides are structural and come first. Any item
	// failing the stock screen aborts the evaluation; the engine's caller
	// sees the per-item error and can drop the item and resubmit.
	flashItems := make([]flashsale.Item, len(order.Items))
	for i, item := range order.Items {
		flashItems[i] = flashsale.Item{VariantID: item.VariantID, Quantity: item.Quantity}
	}
	overrides, err := e.allocator.Allocate(ctx, flashItems)
	if err != nil {
		return nil, nil, err
	}

	apps, err := e.resolvePromotions(ctx, order, overrides)
	if err != nil {
		return nil, nil, err
	}

	bd := Aggregate(order.Items, overrides, apps, e.policy)
	bd.EvaluatedAt = e.now()

	req := &ledger.CommitRequest{
		OrderID: order.ID,
		UserID:  order.UserID,
	}
	for _, o := range overrides {
		req.Allocations = append(req.Allocations, ledger.StockAllocation{
			ProductID: o.ProductID,
			VariantID: o.VariantID,
			Quantity:  o.Quantity,
		})
	}
	if bd.AppliedPromotion != "" || bd.FreeShipping {
		code := bd.AppliedPromotion
		if code == "" {
			// Free shipping only: record the first free-shipping code.
			code = freeShippingCode(apps)
		}
		req.Promotion = &ledger.Redemption{Code: code, Amount: bd.Discount}
	}

	return &bd, req, nil
}

// resolvePromotions resolves every submitted code against the items that
// promotions may still discount. Flash-priced items are held out of the
// promotion context unless stacking on flash prices is enabled, so resolved
// amounts line up with what aggregation will distribute.
func (e *Engine) resolvePromotions(ctx context.Context, order Order, overrides []flashsale.PriceOverride) ([]promotion.Application, error) {
	if len(order.PromotionCodes) == 0 {
		return nil, nil
	}

	flashVariants := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		flashVariants[o.VariantID] = true
	}

	promoCtx := promotion.Context{UserID: order.UserID}
	for _, item := range order.Items {
		if flashVariants[item.VariantID] && !e.policy.StackOnFlashPrices {
			continue
		}
		price := item.UnitPrice
		if flashVariants[item.VariantID] {
			for _, o := range overrides {
				if o.VariantID == item.VariantID {
					price = o.UnitPrice
					break
				}
			}
		}
		promoCtx.Items = append(promoCtx.Items, promotion.Item{
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			CategoryID: item.CategoryID,
			Price:      price,
			Quantity:   item.Quantity,
		})
	}

	apps := make([]promotion.Application, 0, len(order.PromotionCodes))
	for _, code := range order.PromotionCodes {
		app, err := e.resolver.Resolve(ctx, code, promoCtx)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, nil
}

func validate(order Order) error {
	if len(order.Items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return &InvalidQuantityError{VariantID: item.VariantID}
		}
		if item.UnitPrice.IsNegative() {
			return &InvalidPriceError{VariantID: item.VariantID}
		}
	}
	return nil
}

// mapDeadline converts a deadline-driven failure into ErrTimeout so the
// order flow can report it distinctly from eligibility errors.
func (e *Engine) mapDeadline(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func freeShippingCode(apps []promotion.Application) string {
	for _, app := range apps {
		if app.FreeShipping {
			return app.Code
		}
	}
	return ""
}
