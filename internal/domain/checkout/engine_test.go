package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storely/promo-engine/internal/domain/flashsale"
	"github.com/storely/promo-engine/internal/domain/ledger"
	"github.com/storely/promo-engine/internal/domain/promotion"
)

type mockAllocator struct {
	overrides []flashsale.PriceOverride
	err       error
}

func (m *mockAllocator) Allocate(_ context.Context, _ []flashsale.Item) ([]flashsale.PriceOverride, error) {
	return m.overrides, m.err
}

type mockResolver struct {
	apps map[string]*promotion.Application
	errs map[string]error
}

func (m *mockResolver) Resolve(_ context.Context, code string, _ promotion.Context) (*promotion.Application, error) {
	if err := m.errs[code]; err != nil {
		return nil, err
	}
	if app, ok := m.apps[code]; ok {
		return app, nil
	}
	return nil, promotion.ErrNotFound
}

type mockLedger struct {
	commits   []ledger.CommitRequest
	errs      []error // consumed per commit call; nil past the end
	callCount int
}

func (m *mockLedger) Commit(_ context.Context, req ledger.CommitRequest) error {
	m.commits = append(m.commits, req)
	defer func() { m.callCount++ }()
	if m.callCount < len(m.errs) {
		return m.errs[m.callCount]
	}
	return nil
}

func (m *mockLedger) UserRedemptions(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

func orderWith(codes ...string) Order {
	return Order{
		ID:     "o1",
		UserID: "u1",
		Items: []LineItem{
			{ProductID: "p1", VariantID: "v1", UnitPrice: decimal.NewFromInt(80), Quantity: 1},
		},
		PromotionCodes: codes,
	}
}

func TestEngine_QuoteDoesNotCommit(t *testing.T) {
	ldg := &mockLedger{}
	e := NewEngine(
		&mockAllocator{},
		&mockResolver{apps: map[string]*promotion.Application{
			"SAVE10": {Code: "SAVE10", DiscountType: promotion.DiscountPercentage,
				Amount: decimal.NewFromInt(8), VariantIDs: []string{"v1"}},
		}},
		ldg,
	)

	bd, err := e.Quote(context.Background(), orderWith("SAVE10"))

	require.NoError(t, err)
	assert.Equal(t, "SAVE10", bd.AppliedPromotion)
	assert.True(t, decimal.NewFromInt(72).Equal(bd.Total))
	assert.Empty(t, ldg.commits, "quote must leave the ledger untouched")
}

func TestEngine_PlaceCommitsOnce(t *testing.T) {
	ldg := &mockLedger{}
	e := NewEngine(
		&mockAllocator{overrides: []flashsale.PriceOverride{
			{VariantID: "v1", ProductID: "fsp1", UnitPrice: decimal.NewFromInt(60), Quantity: 1},
		}},
		&mockResolver{},
		ldg,
	)

	bd, err := e.Place(context.Background(), orderWith())

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(60).Equal(bd.Total))
	require.Len(t, ldg.commits, 1)
	req := ldg.commits[0]
	assert.Equal(t, "o1", req.OrderID)
	assert.Nil(t, req.Promotion)
	require.Len(t, req.Allocations, 1)
	assert.Equal(t, "fsp1", req.Allocations[0].ProductID)
}

func TestEngine_PlaceRetriesOnConflict(t *testing.T) {
	ldg := &mockLedger{errs: []error{ledger.ErrCommitConflict}}
	e := NewEngine(
		&mockAllocator{},
		&mockResolver{apps: map[string]*promotion.Application{
			"SAVE10": {Code: "SAVE10", DiscountType: promotion.DiscountPercentage,
				Amount: decimal.NewFromInt(8), VariantIDs: []string{"v1"}},
		}},
		ldg,
	)

	_, err := e.Place(context.Background(), orderWith("SAVE10"))

	require.NoError(t, err)
	assert.Len(t, ldg.commits, 2, "conflict must trigger a full re-evaluation and a second commit")
}

func TestEngine_PlaceExhaustsRetries(t *testing.T) {
	ldg := &mockLedger{errs: []error{
		ledger.ErrCommitConflict, ledger.ErrCommitConflict,
	}}
	e := NewEngine(&mockAllocator{}, &mockResolver{}, ldg, WithCommitAttempts(2))

	_, err := e.Place(context.Background(), orderWith())

	require.ErrorIs(t, err, ledger.ErrCommitConflict)
	assert.Len(t, ldg.commits, 2)
}

func TestEngine_PlaceDoesNotRetryEligibilityErrors(t *testing.T) {
	ldg := &mockLedger{}
	e := NewEngine(
		&mockAllocator{},
		&mockResolver{errs: map[string]error{"SAVE10": promotion.ErrGlobalCapReached}},
		ldg,
	)

	_, err := e.Place(context.Background(), orderWith("SAVE10"))

	require.ErrorIs(t, err, promotion.ErrGlobalCapReached)
	assert.Empty(t, ldg.commits)
}

func TestEngine_PlaceSurfacesStockErrors(t *testing.T) {
	e := NewEngine(
		&mockAllocator{err: errors.Join(&flashsale.InsufficientStockError{
			VariantID: "v1", Requested: 2, Remaining: 1,
		})},
		&mockResolver{},
		&mockLedger{},
	)

	_, err := e.Place(context.Background(), orderWith())

	var stockErr *flashsale.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "v1", stockErr.VariantID)
}

func TestEngine_Validation(t *testing.T) {
	e := NewEngine(&mockAllocator{}, &mockResolver{}, &mockLedger{})

	tests := []struct {
		name  string
		order Order
		check func(t *testing.T, err error)
	}{
		{
			name:  "empty items",
			order: Order{ID: "o1", UserID: "u1"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrEmptyItems)
			},
		},
		{
			name: "zero quantity",
			order: Order{ID: "o1", UserID: "u1", Items: []LineItem{
				{VariantID: "v1", UnitPrice: decimal.NewFromInt(10), Quantity: 0},
			}},
			check: func(t *testing.T, err error) {
				var qtyErr *InvalidQuantityError
				require.ErrorAs(t, err, &qtyErr)
				assert.Equal(t, "v1", qtyErr.VariantID)
			},
		},
		{
			name: "negative price",
			order: Order{ID: "o1", UserID: "u1", Items: []LineItem{
				{VariantID: "v1", UnitPrice: decimal.NewFromInt(-1), Quantity: 1},
			}},
			check: func(t *testing.T, err error) {
				var priceErr *InvalidPriceError
				require.ErrorAs(t, err, &priceErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Quote(context.Background(), tt.order)
			tt.check(t, err)
		})
	}
}

func TestEngine_DeadlineMapsToTimeout(t *testing.T) {
	e := NewEngine(&mockAllocator{err: context.DeadlineExceeded}, &mockResolver{}, &mockLedger{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := e.Place(ctx, orderWith())

	require.ErrorIs(t, err, ErrTimeout)
}

func TestEngine_FreeShippingOnlyOrderRecordsRedemption(t *testing.T) {
	ldg := &mockLedger{}
	e := NewEngine(
		&mockAllocator{},
		&mockResolver{apps: map[string]*promotion.Application{
			"SHIPFREE": {Code: "SHIPFREE", DiscountType: promotion.DiscountFreeShipping,
				FreeShipping: true, VariantIDs: []string{"v1"}},
		}},
		ldg,
	)

	bd, err := e.Place(context.Background(), orderWith("SHIPFREE"))

	require.NoError(t, err)
	assert.True(t, bd.FreeShipping)
	assert.Empty(t, bd.AppliedPromotion)
	require.Len(t, ldg.commits, 1)
	require.NotNil(t, ldg.commits[0].Promotion)
	assert.Equal(t, "SHIPFREE", ldg.commits[0].Promotion.Code)
	assert.True(t, ldg.commits[0].Promotion.Amount.IsZero())
}

func TestEngine_FlashItemsHeldOutOfPromotionContext(t *testing.T) {
	var seen promotion.Context
	resolver := &captureResolver{app: &promotion.Application{
		Code: "SAVE10", DiscountType: promotion.DiscountPercentage,
		Amount: decimal.NewFromInt(2), VariantIDs: []string{"v2"},
	}, seen: &seen}

	e := NewEngine(
		&mockAllocator{overrides: []flashsale.PriceOverride{
			{VariantID: "v1", ProductID: "fsp1", UnitPrice: decimal.NewFromInt(50), Quantity: 1},
		}},
		resolver,
		&mockLedger{},
	)

	order := Order{
		ID:     "o1",
		UserID: "u1",
		Items: []LineItem{
			{ProductID: "p1", VariantID: "v1", UnitPrice: decimal.NewFromInt(80), Quantity: 1},
			{ProductID: "p2", VariantID: "v2", UnitPrice: decimal.NewFromInt(20), Quantity: 1},
		},
		PromotionCodes: []string{"SAVE10"},
	}

	_, err := e.Quote(context.Background(), order)

	require.NoError(t, err)
	require.Len(t, seen.Items, 1, "flash-priced line must not reach the resolver by default")
	assert.Equal(t, "v2", seen.Items[0].VariantID)
}

type captureResolver struct {
	app  *promotion.Application
	seen *promotion.Context
}

func (c *captureResolver) Resolve(_ context.Context, _ string, order promotion.Context) (*promotion.Application, error) {
	*c.seen = order
	return c.app, nil
}
