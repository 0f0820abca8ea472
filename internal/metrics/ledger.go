package metrics

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/storely/promo-engine/internal/domain/ledger"
)

var _ ledger.Ledger = (*InstrumentedLedger)(nil)

// InstrumentedLedger wraps a Ledger with commit latency and outcome
// metrics.
type InstrumentedLedger struct {
	next ledger.Ledger
}

// NewInstrumentedLedger wraps next with Prometheus instrumentation.
func NewInstrumentedLedger(next ledger.Ledger) *InstrumentedLedger {
	return &InstrumentedLedger{next: next}
}

// Commit delegates and records duration labeled by outcome.
func (l *InstrumentedLedger) Commit(ctx context.Context, req ledger.CommitRequest) error {
	start := time.Now()
	err := l.next.Commit(ctx, req)

	status := "committed"
	switch {
	case errors.Is(err, ledger.ErrCommitConflict):
		status = "conflict"
	case err != nil:
		status = "error"
	}
	ObserveCommit(status, time.Since(start).Seconds())

	return err
}

// UserRedemptions delegates to the wrapped ledger.
func (l *InstrumentedLedger) UserRedemptions(ctx context.Context, code, userID string) (int, error) {
	return l.next.UserRedemptions(ctx, code, userID)
}
