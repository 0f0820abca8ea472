package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storely/promo-engine/internal/domain/ledger"
)

const (
	orderCommittedSQL = `SELECT EXISTS (SELECT 1 FROM order_promotions WHERE order_id = $1)
		OR EXISTS (SELECT 1 FROM flash_sale_allocations WHERE order_id = $1)`

	// The ceiling check and the increment are one conditional statement, so
	// two commits racing for the last redemption slot cannot both succeed.
	consumePromotionUseSQL = `UPDATE promotions
		SET current_usage_count = current_usage_count + 1
		WHERE code = $1
		  AND (maximum_usage_limit IS NULL OR current_usage_count < maximum_usage_limit)
		RETURNING COALESCE(usage_limit_per_user, 0)`

	insertOrderPromotionSQL = `INSERT INTO order_promotions
		(order_id, promotion_code, user_id, amount_discounted)
		VALUES ($1, $2, $3, $4)`

	countUserRedemptionsSQL = `SELECT COUNT(*) FROM order_promotions
		WHERE promotion_code = $1 AND user_id = $2`

	reserveFlashStockSQL = `UPDATE flash_sale_products
		SET quantity_sold = quantity_sold + $2
		WHERE id = $1 AND quantity_sold + $2 <= quantity_limit`

	insertAllocationSQL = `INSERT INTO flash_sale_allocations
		(order_id, flash_sale_product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)`

	insertStatusEntrySQL = `INSERT INTO order_status_history
		(id, order_id, status, note)
		VALUES ($1, $2, $3, $4)`
)

var _ ledger.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Ledger backed by PostgreSQL. Commits
// run in a serializable transaction: counter ceilings are enforced by
// conditional row updates, and the per-user redemption cap is covered by
// the serializable isolation level. Either way, the store's rejection is
// the only conflict signal — the in-process path never pre-checks and hopes.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Commit applies the request in one transaction. A commit whose order
// already holds a redemption or allocation record is a no-op, making
// crash-and-retry safe. Guard rejections and serialization failures return
// ledger.ErrCommitConflict.
func (r *LedgerRepository) Commit(ctx context.Context, req ledger.CommitRequest) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var committed bool
	if err := tx.QueryRow(ctx, orderCommittedSQL, req.OrderID).Scan(&committed); err != nil {
		return mapCommitErr(fmt.Errorf("checking order %q commit state: %w", req.OrderID, err))
	}
	if committed {
		return nil
	}

	if req.Promotion != nil {
		if err := r.consumePromotion(ctx, tx, req); err != nil {
			return err
		}
	}

	for _, alloc := range req.Allocations {
		tag, err := tx.Exec(ctx, reserveFlashStockSQL, alloc.ProductID, alloc.Quantity)
		if err != nil {
			return mapCommitErr(fmt.Errorf("reserving flash stock for %q: %w", alloc.ProductID, err))
		}
		if tag.RowsAffected() == 0 {
			return ledger.ErrCommitConflict
		}
		_, err = tx.Exec(ctx, insertAllocationSQL, req.OrderID, alloc.ProductID, alloc.VariantID, alloc.Quantity)
		if err != nil {
			return mapCommitErr(fmt.Errorf("recording allocation for %q: %w", alloc.ProductID, err))
		}
	}

	if req.Promotion != nil || len(req.Allocations) > 0 {
		note := ""
		if req.Promotion != nil {
			note = req.Promotion.Code
		}
		_, err = tx.Exec(ctx, insertStatusEntrySQL,
			uuid.New().String(), req.OrderID, ledger.StatusPromotionApplied, note)
		if err != nil {
			return mapCommitErr(fmt.Errorf("appending status history for order %q: %w", req.OrderID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapCommitErr(fmt.Errorf("committing ledger transaction: %w", err))
	}
	return nil
}

func (r *LedgerRepository) consumePromotion(ctx context.Context, tx pgx.Tx, req ledger.CommitRequest) error {
	var perUserLimit int32
	err := tx.QueryRow(ctx, consumePromotionUseSQL, req.Promotion.Code).Scan(&perUserLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Unknown code or global cap exhausted since evaluation.
			return ledger.ErrCommitConflict
		}
		return mapCommitErr(fmt.Errorf("consuming use of promotion %q: %w", req.Promotion.Code, err))
	}

	if perUserLimit > 0 {
		var prior int
		err := tx.QueryRow(ctx, countUserRedemptionsSQL, req.Promotion.Code, req.UserID).Scan(&prior)
		if err != nil {
			return mapCommitErr(fmt.Errorf("counting redemptions of %q: %w", req.Promotion.Code, err))
		}
		if prior >= int(perUserLimit) {
			return ledger.ErrCommitConflict
		}
	}

	_, err = tx.Exec(ctx, insertOrderPromotionSQL,
		req.OrderID, req.Promotion.Code, req.UserID, req.Promotion.Amount)
	if err != nil {
		return mapCommitErr(fmt.Errorf("recording redemption of %q: %w", req.Promotion.Code, err))
	}
	return nil
}

// UserRedemptions counts the user's committed redemptions of a promotion.
func (r *LedgerRepository) UserRedemptions(ctx context.Context, code, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, countUserRedemptionsSQL, code, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting redemptions of %q: %w", code, err)
	}
	return n, nil
}

// mapCommitErr translates store-level conflicts into ErrCommitConflict:
// serialization failures (40001), deadlocks (40P01) from the serializable
// transaction, and check violations (23514) from the counter ceilings.
func mapCommitErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23514", "23505":
			return ledger.ErrCommitConflict
		}
	}
	return err
}
