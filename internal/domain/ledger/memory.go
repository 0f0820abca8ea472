package ledger

import (
	"context"
	"sync"
	"time"
)

var _ Ledger = (*Memory)(nil)

// Memory is an in-process Ledger with the same conditional-increment
// semantics as the PostgreSQL implementation: every ceiling check and its
// increment happen atomically under one lock, so concurrent commits racing
// for the last unit of stock or the last redemption slot never both
// succeed. It backs tests and ephemeral deployments; it is not durable.
type Memory struct {
	mu sync.Mutex

	promotions map[string]*memPromotion
	stock      map[string]*memStock
	committed  map[string]bool // orders with at least one committed record
	records    []OrderPromotion
	history    []StatusEntry
	now        func() time.Time
}

type memPromotion struct {
	maxUsage   int // 0 means unlimited
	perUser    int // 0 means unlimited
	usageCount int
}

type memStock struct {
	limit int
	sold  int
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		promotions: make(map[string]*memPromotion),
		stock:      make(map[string]*memStock),
		committed:  make(map[string]bool),
		now:        time.Now,
	}
}

// AddPromotion registers a promotion's caps and current usage so commits can
// guard against them.
func (m *Memory) AddPromotion(code string, maxUsage, perUser, currentUsage int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions[code] = &memPromotion{maxUsage: maxUsage, perUser: perUser, usageCount: currentUsage}
}

// AddFlashStock registers a flash sale product's stock state.
func (m *Memory) AddFlashStock(productID string, limit, sold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = &memStock{limit: limit, sold: sold}
}

// Commit implements Ledger. The whole request is validated against ceilings
// before any state changes, giving all-or-nothing semantics.
func (m *Memory) Commit(ctx context.Context, req CommitRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.committed[req.OrderID] {
		return nil
	}

	var promo *memPromotion
	if req.Promotion != nil {
		promo = m.promotions[req.Promotion.Code]
		if promo == nil {
			return ErrCommitConflict
		}
		if promo.maxUsage > 0 && promo.usageCount >= promo.maxUsage {
			return ErrCommitConflict
		}
		if promo.perUser > 0 && m.userRedemptionsLocked(req.Promotion.Code, req.UserID) >= promo.perUser {
			return ErrCommitConflict
		}
	}

	for _, alloc := range req.Allocations {
		s := m.stock[alloc.ProductID]
		if s == nil || s.sold+alloc.Quantity > s.limit {
			return ErrCommitConflict
		}
	}

	now := m.now()
	if req.Promotion != nil {
		promo.usageCount++
		m.records = append(m.records, OrderPromotion{
			OrderID:   req.OrderID,
			Code:      req.Promotion.Code,
			UserID:    req.UserID,
			Amount:    req.Promotion.Amount,
			AppliedAt: now,
		})
		m.history = append(m.history, StatusEntry{
			OrderID:   req.OrderID,
			Status:    StatusPromotionApplied,
			Note:      req.Promotion.Code,
			CreatedAt: now,
		})
	}
	for _, alloc := range req.Allocations {
		m.stock[alloc.ProductID].sold += alloc.Quantity
	}
	m.committed[req.OrderID] = true

	return nil
}

// UserRedemptions implements Ledger.
func (m *Memory) UserRedemptions(_ context.Context, code, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userRedemptionsLocked(code, userID), nil
}

func (m *Memory) userRedemptionsLocked(code, userID string) int {
	n := 0
	for _, rec := range m.records {
		if rec.Code == code && rec.UserID == userID {
			n++
		}
	}
	return n
}

// PromotionUsage returns a promotion's committed usage count.
func (m *Memory) PromotionUsage(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.promotions[code]; ok {
		return p.usageCount
	}
	return 0
}

// QuantitySold returns a flash sale product's committed reservation total.
func (m *Memory) QuantitySold(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stock[productID]; ok {
		return s.sold
	}
	return 0
}

// Records returns all committed redemption records.
func (m *Memory) Records() []OrderPromotion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OrderPromotion, len(m.records))
	copy(out, m.records)
	return out
}

// History returns the order status audit trail.
func (m *Memory) History() []StatusEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StatusEntry, len(m.history))
	copy(out, m.history)
	return out
}
