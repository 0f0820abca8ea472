// Package ledger defines the usage ledger: the single write path for
// promotion redemptions and flash sale stock reservations. Evaluation is
// side-effect free everywhere else; every counter increment in the system
// goes through a Ledger commit.
package ledger

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrCommitConflict is returned when the store rejects a commit because a
// counter ceiling would be exceeded or the transaction lost a serialization
// race. The caller must re-run the full evaluation before retrying; stock
// and caps may have shifted.
var ErrCommitConflict = errors.New("ledger commit conflict")

// Redemption asks the commit to consume one use of a promotion for an order.
type Redemption struct {
	Code   string
	Amount decimal.Decimal
}

// StockAllocation asks the commit to reserve flash sale stock for one line
// item.
type StockAllocation struct {
	ProductID string // flash sale product row
	VariantID string
	Quantity  int
}

// CommitRequest is the complete set of side effects for one order. The
// commit is all-or-nothing: every counter increment and record insert
// succeeds in one durable transaction, or none do.
type CommitRequest struct {
	OrderID     string
	UserID      string
	Promotion   *Redemption // nil when no promotion was applied
	Allocations []StockAllocation
}

// OrderPromotion is the durable record of a committed redemption. Its
// existence is the idempotency key: a commit for an (order, promotion) pair
// that already has a record is a no-op.
type OrderPromotion struct {
	OrderID   string
	Code      string
	UserID    string
	Amount    decimal.Decimal
	AppliedAt time.Time
}

// StatusEntry is an append-only audit record written when a commit changes
// an order's computed total.
type StatusEntry struct {
	OrderID   string
	Status    string
	Note      string
	CreatedAt time.Time
}

// StatusPromotionApplied is the status recorded for a committed redemption.
const StatusPromotionApplied = "promotion_applied"

// Ledger commits evaluated discounts and answers usage questions.
type Ledger interface {
	// Commit applies the request transactionally. Returns ErrCommitConflict
	// when any guarded increment is rejected. Re-running a commit whose
	// promotion pair was already recorded is a no-op.
	Commit(ctx context.Context, req CommitRequest) error
	// UserRedemptions counts the user's committed redemptions of a promotion.
	UserRedemptions(ctx context.Context, code, userID string) (int, error)
}
