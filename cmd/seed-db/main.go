// Command seed-db loads a small set of promotions, applicability rules,
// and a flash sale for local development.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storely/promo-engine/internal/repository"
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", "err", err)
		os.Exit(1)
	}
	slog.Info("seed complete")
}

func run(ctx context.Context, databaseURL string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	now := time.Now()
	weekAgo := now.Add(-7 * 24 * time.Hour)
	weekAhead := now.Add(7 * 24 * time.Hour)

	promotions := []struct {
		code         string
		discountType string
		value        string
		minOrder     string
		maxUsage     *int
		perUser      *int
	}{
		{code: "SAVE10", discountType: "percentage", value: "10", minOrder: "50.00", maxUsage: intp(100), perUser: intp(1)},
		{code: "TENOFF", discountType: "fixed_amount_order", value: "10.00", minOrder: "0"},
		{code: "SHIPFREE", discountType: "free_shipping", value: "0", minOrder: "25.00"},
	}
	for _, p := range promotions {
		_, err := pool.Exec(ctx, `INSERT INTO promotions
			(code, discount_type, discount_value, minimum_order_value,
			 maximum_usage_limit, usage_limit_per_user, starts_at, ends_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
			ON CONFLICT (code) DO NOTHING`,
			p.code, p.discountType, decimal.RequireFromString(p.value),
			decimal.RequireFromString(p.minOrder), p.maxUsage, p.perUser,
			weekAgo, weekAhead,
		)
		if err != nil {
			return errors.Wrapf(err, "seed promotion %s", p.code)
		}
	}

	// TENOFF is restricted to the electronics category, except one variant.
	rules := []struct {
		ruleType      string
		entityID      string
		applicability string
	}{
		{ruleType: "category", entityID: "cat-electronics", applicability: "include"},
		{ruleType: "product_variant", entityID: "var-refurb-001", applicability: "exclude"},
	}
	for _, r := range rules {
		_, err := pool.Exec(ctx, `INSERT INTO promotion_rules
			(id, promotion_code, rule_type, entity_id, applicability_type)
			VALUES ($1, 'TENOFF', $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			uuid.New().String(), r.ruleType, r.entityID, r.applicability,
		)
		if err != nil {
			return errors.Wrap(err, "seed promotion rules")
		}
	}

	saleID := uuid.New().String()
	_, err = pool.Exec(ctx, `INSERT INTO flash_sales (id, name, starts_at, ends_at, is_active)
		VALUES ($1, 'Launch week flash sale', $2, $3, TRUE)`,
		saleID, weekAgo, weekAhead,
	)
	if err != nil {
		return errors.Wrap(err, "seed flash sale")
	}

	_, err = pool.Exec(ctx, `INSERT INTO flash_sale_products
		(id, flash_sale_id, variant_id, flash_sale_price, quantity_limit)
		VALUES ($1, $2, 'var-headphones-001', $3, 50)`,
		uuid.New().String(), saleID, decimal.RequireFromString("59.90"),
	)
	if err != nil {
		return errors.Wrap(err, "seed flash sale product")
	}

	return nil
}

func intp(v int) *int { return &v }
