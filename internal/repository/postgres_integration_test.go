//go:build integration

package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/storely/promo-engine/internal/domain/ledger"
	"github.com/storely/promo-engine/internal/domain/promotion"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "promo",
				"POSTGRES_PASSWORD": "promo",
				"POSTGRES_DB":       "promo",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://promo:promo@%s:%s/promo?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func seedPromotion(t *testing.T, pool *pgxpool.Pool, code string, maxUsage, perUser *int) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `INSERT INTO promotions
		(code, discount_type, discount_value, minimum_order_value,
		 maximum_usage_limit, usage_limit_per_user, is_active)
		VALUES ($1, 'percentage', 10, 0, $2, $3, TRUE)`,
		code, maxUsage, perUser)
	require.NoError(t, err)
}

func seedFlashStock(t *testing.T, pool *pgxpool.Pool, productID string, limit, sold int) {
	t.Helper()
	ctx := context.Background()
	saleID := uuid.New().String()
	_, err := pool.Exec(ctx, `INSERT INTO flash_sales (id, name, starts_at, ends_at, is_active)
		VALUES ($1, 'test sale', now() - interval '1 hour', now() + interval '1 hour', TRUE)`, saleID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO flash_sale_products
		(id, flash_sale_id, variant_id, flash_sale_price, quantity_limit, quantity_sold)
		VALUES ($1, $2, 'v1', 9.99, $3, $4)`, productID, saleID, limit, sold)
	require.NoError(t, err)
}

func intp(v int) *int { return &v }

func TestPromotionRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewPromotionRepository(pool)
	ctx := context.Background()

	seedPromotion(t, pool, "SAVE10", intp(100), intp(1))
	_, err := pool.Exec(ctx, `INSERT INTO promotion_rules
		(id, promotion_code, rule_type, entity_id, applicability_type)
		VALUES ($1, 'SAVE10', 'category', 'c1', 'include')`, uuid.New().String())
	require.NoError(t, err)

	t.Run("find by code", func(t *testing.T) {
		promo, err := repo.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", promo.Code)
		assert.Equal(t, promotion.DiscountPercentage, promo.DiscountType)
		assert.Equal(t, 100, promo.MaxUsageLimit)
		assert.Equal(t, 1, promo.UsageLimitPerUser)
		require.Len(t, promo.Rules, 1)
		assert.Equal(t, promotion.RuleCategory, promo.Rules[0].RuleType)
	})

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		promo, err := repo.FindByCode(ctx, "save10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", promo.Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := repo.FindByCode(ctx, "NOPE")
		require.ErrorIs(t, err, promotion.ErrNotFound)
	})

	t.Run("list codes", func(t *testing.T) {
		codes, err := repo.ListCodes(ctx)
		require.NoError(t, err)
		assert.Contains(t, codes, "SAVE10")
	})
}

func TestFlashSaleRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewFlashSaleRepository(pool)
	ctx := context.Background()

	seedFlashStock(t, pool, "fsp1", 50, 10)

	t.Run("active sale covers its variant", func(t *testing.T) {
		products, err := repo.ActiveForVariants(ctx, []string{"v1", "v-other"}, time.Now())
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "fsp1", products[0].ID)
		assert.Equal(t, 40, products[0].Remaining())
		assert.True(t, decimal.RequireFromString("9.99").Equal(products[0].SalePrice))
	})

	t.Run("expired window excludes the sale", func(t *testing.T) {
		products, err := repo.ActiveForVariants(ctx, []string{"v1"}, time.Now().Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, products)
	})
}

func TestLedgerRepository_Commit(t *testing.T) {
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	seedPromotion(t, pool, "SAVE10", intp(100), intp(1))
	seedFlashStock(t, pool, "fsp1", 5, 0)

	req := ledger.CommitRequest{
		OrderID:     "o1",
		UserID:      "u1",
		Promotion:   &ledger.Redemption{Code: "SAVE10", Amount: decimal.RequireFromString("8.00")},
		Allocations: []ledger.StockAllocation{{ProductID: "fsp1", VariantID: "v1", Quantity: 2}},
	}

	require.NoError(t, repo.Commit(ctx, req))

	var usage, sold int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT current_usage_count FROM promotions WHERE code = 'SAVE10'`).Scan(&usage))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT quantity_sold FROM flash_sale_products WHERE id = 'fsp1'`).Scan(&sold))
	assert.Equal(t, 1, usage)
	assert.Equal(t, 2, sold)

	n, err := repo.UserRedemptions(ctx, "SAVE10", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("replay is a no-op", func(t *testing.T) {
		require.NoError(t, repo.Commit(ctx, req))

		require.NoError(t, pool.QueryRow(ctx,
			`SELECT current_usage_count FROM promotions WHERE code = 'SAVE10'`).Scan(&usage))
		assert.Equal(t, 1, usage, "replay must not consume a second use")
	})

	t.Run("per-user cap enforced at commit", func(t *testing.T) {
		err := repo.Commit(ctx, ledger.CommitRequest{
			OrderID:   "o2",
			UserID:    "u1",
			Promotion: &ledger.Redemption{Code: "SAVE10", Amount: decimal.RequireFromString("8.00")},
		})
		require.ErrorIs(t, err, ledger.ErrCommitConflict)
	})

	t.Run("status history written", func(t *testing.T) {
		var status string
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT status FROM order_status_history WHERE order_id = 'o1'`).Scan(&status))
		assert.Equal(t, ledger.StatusPromotionApplied, status)
	})
}

func TestLedgerRepository_ConcurrentLastUnit(t *testing.T) {
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	seedFlashStock(t, pool, "fsp1", 5, 4)

	var succeeded, conflicted atomic.Int32
	g := new(errgroup.Group)
	for i := range 2 {
		orderID := fmt.Sprintf("race-%d", i)
		g.Go(func() error {
			err := repo.Commit(ctx, ledger.CommitRequest{
				OrderID:     orderID,
				UserID:      "u1",
				Allocations: []ledger.StockAllocation{{ProductID: "fsp1", VariantID: "v1", Quantity: 1}},
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ledger.ErrCommitConflict):
				conflicted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), succeeded.Load(), "exactly one racer wins the last unit")
	assert.Equal(t, int32(1), conflicted.Load())

	var sold int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT quantity_sold FROM flash_sale_products WHERE id = 'fsp1'`).Scan(&sold))
	assert.Equal(t, 5, sold, "stock must never exceed its limit")
}

func TestLedgerRepository_GlobalCapRace(t *testing.T) {
	pool := startPostgres(t)
	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	seedPromotion(t, pool, "LAST1", intp(1), nil)

	var succeeded atomic.Int32
	g := new(errgroup.Group)
	for i := range 4 {
		orderID := fmt.Sprintf("cap-%d", i)
		userID := fmt.Sprintf("u%d", i)
		g.Go(func() error {
			err := repo.Commit(ctx, ledger.CommitRequest{
				OrderID:   orderID,
				UserID:    userID,
				Promotion: &ledger.Redemption{Code: "LAST1", Amount: decimal.NewFromInt(1)},
			})
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if errors.Is(err, ledger.ErrCommitConflict) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), succeeded.Load())

	var usage int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT current_usage_count FROM promotions WHERE code = 'LAST1'`).Scan(&usage))
	assert.Equal(t, 1, usage)
}
