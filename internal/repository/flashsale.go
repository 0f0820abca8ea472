package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storely/promo-engine/internal/domain/flashsale"
)

const activeFlashProductsSQL = `SELECT p.id, p.flash_sale_id, p.variant_id,
	p.flash_sale_price, p.quantity_limit, p.quantity_sold
	FROM flash_sale_products p
	JOIN flash_sales s ON s.id = p.flash_sale_id
	WHERE p.variant_id = ANY($1)
	  AND s.is_active = TRUE
	  AND s.starts_at <= $2 AND s.ends_at >= $2`

var _ flashsale.Repository = (*FlashSaleRepository)(nil)

// FlashSaleRepository implements flashsale.Repository backed by PostgreSQL.
type FlashSaleRepository struct {
	pool *pgxpool.Pool
}

// NewFlashSaleRepository returns a FlashSaleRepository that uses the given pool.
func NewFlashSaleRepository(pool *pgxpool.Pool) *FlashSaleRepository {
	return &FlashSaleRepository{pool: pool}
}

// ActiveForVariants returns the flash sale products covering the given
// variants whose sale is active at now. The returned quantity_sold is a
// read-time snapshot; the authoritative ceiling check happens in the ledger
// commit's conditional update.
func (r *FlashSaleRepository) ActiveForVariants(ctx context.Context, variantIDs []string, now time.Time) ([]flashsale.Product, error) {
	rows, err := r.pool.Query(ctx, activeFlashProductsSQL, variantIDs, now)
	if err != nil {
		return nil, fmt.Errorf("querying active flash sale products: %w", err)
	}
	return pgx.CollectRows(rows, scanFlashProduct)
}

func scanFlashProduct(row pgx.CollectableRow) (flashsale.Product, error) {
	var (
		p     flashsale.Product
		price decimal.Decimal
		limit int32
		sold  int32
	)
	err := row.Scan(&p.ID, &p.SaleID, &p.VariantID, &price, &limit, &sold)
	p.SalePrice = price
	p.QuantityLimit = int(limit)
	p.QuantitySold = int(sold)
	return p, err
}
