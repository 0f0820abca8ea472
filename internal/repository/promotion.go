package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storely/promo-engine/internal/domain/promotion"
)

const (
	getPromotionByCodeSQL = `SELECT code, discount_type, discount_value, minimum_order_value,
		maximum_usage_limit, usage_limit_per_user, current_usage_count,
		starts_at, ends_at, is_active
		FROM promotions WHERE UPPER(code) = UPPER($1)`

	getPromotionRulesSQL = `SELECT rule_type, entity_id, applicability_type
		FROM promotion_rules WHERE promotion_code = $1 ORDER BY id`

	listPromotionCodesSQL = `SELECT code FROM promotions`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up a promotion by its code (case-insensitive), including
// its applicability rules. Returns promotion.ErrNotFound when no such
// promotion exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	promo, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	ruleRows, err := r.pool.Query(ctx, getPromotionRulesSQL, promo.Code)
	if err != nil {
		return nil, fmt.Errorf("loading rules for promotion %q: %w", promo.Code, err)
	}
	promo.Rules, err = pgx.CollectRows(ruleRows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("loading rules for promotion %q: %w", promo.Code, err)
	}

	return &promo, nil
}

// ListCodes returns every promotion code, used to warm the code prefilter.
func (r *PromotionRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPromotionCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promotion codes: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	})
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
		value        decimal.Decimal
		minOrder     decimal.Decimal
		maxUsage     *int32
		perUser      *int32
		usageCount   int32
		startsAt     *time.Time
		endsAt       *time.Time
	)
	err := row.Scan(
		&p.Code, &discountType, &value, &minOrder,
		&maxUsage, &perUser, &usageCount,
		&startsAt, &endsAt, &p.Active,
	)
	p.DiscountType = promotion.DiscountType(discountType)
	p.Value = value
	p.MinimumOrderValue = minOrder
	if maxUsage != nil {
		p.MaxUsageLimit = int(*maxUsage)
	}
	if perUser != nil {
		p.UsageLimitPerUser = int(*perUser)
	}
	p.CurrentUsageCount = int(usageCount)
	p.StartsAt = startsAt
	p.EndsAt = endsAt
	return p, err
}

func scanRule(row pgx.CollectableRow) (promotion.ApplicabilityRule, error) {
	var (
		rule          promotion.ApplicabilityRule
		ruleType      string
		applicability string
	)
	err := row.Scan(&ruleType, &rule.EntityID, &applicability)
	rule.RuleType = promotion.RuleType(ruleType)
	rule.Applicability = promotion.Applicability(applicability)
	return rule, err
}
