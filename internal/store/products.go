package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// DBTX is the subset of *pgxpool.Pool and pgx.Tx the stores use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)

// ImageState is what the catalog skip rule needs to know about a product.
type ImageState struct {
	ImageURL      *string
	ImageKey      *string
	LastCheckedAt *time.Time
}

// ProductStore reads and partially updates rows in products.
type ProductStore struct {
	db     DBTX
	logger *zap.Logger
}

// NewProductStore creates a product store on db.
func NewProductStore(db DBTX, logger *zap.Logger) *ProductStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductStore{db: db, logger: logger}
}

// ApplyPatch merges p into the row for p.ASIN with COALESCE(new, old) per column, so a
// nil field never clears stored data. When no row exists one is inserted, but only if
// the patch carries a descriptive field. Returns the number of rows written.
func (s *ProductStore) ApplyPatch(ctx context.Context, p model.ProductPatch) (int64, error) {
	if p.ASIN == "" {
		return 0, fmt.Errorf("apply patch: empty asin")
	}
	if p.Empty() {
		return 0, nil
	}

	const update = `
		UPDATE products SET
			sku                   = COALESCE($2, sku),
			title                 = COALESCE($3, title),
			brand                 = COALESCE($4, brand),
			category              = COALESCE($5, category),
			image_url             = COALESCE($6, image_url),
			image_source_url      = COALESCE($7, image_source_url),
			image_key             = COALESCE($8, image_key),
			price                 = COALESCE($9, price),
			inventory_quantity    = COALESCE($10, inventory_quantity),
			in_stock              = COALESCE($11, in_stock),
			buy_box_seller        = COALESCE($12, buy_box_seller),
			seller_count          = COALESCE($13, seller_count),
			marketplace_id        = COALESCE($14, marketplace_id),
			image_last_checked_at = COALESCE($15, image_last_checked_at),
			updated_at            = NOW()
		WHERE asin = $1;
	`
	args := patchArgs(p)
	tag, err := s.db.Exec(ctx, update, args...)
	if err != nil {
		s.logger.Error("store.pg.product_update_failed", zap.String("asin", p.ASIN), zap.Error(err))
		return 0, err
	}
	if tag.RowsAffected() > 0 || !p.HasDescriptiveField() {
		return tag.RowsAffected(), nil
	}

	const insert = `
		INSERT INTO products (
			asin, sku, title, brand, category, image_url, image_source_url, image_key,
			price, inventory_quantity, in_stock, buy_box_seller, seller_count,
			marketplace_id, image_last_checked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (asin) DO NOTHING;
	`
	tag, err = s.db.Exec(ctx, insert, args...)
	if err != nil {
		s.logger.Error("store.pg.product_insert_failed", zap.String("asin", p.ASIN), zap.Error(err))
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		// lost a race with a concurrent insert; merge into the winner's row
		tag, err = s.db.Exec(ctx, update, args...)
		if err != nil {
			return 0, err
		}
	}
	return tag.RowsAffected(), nil
}

// ASINs returns every ASIN known from products or order lines, sorted.
func (s *ProductStore) ASINs(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `
		SELECT asin FROM (
			SELECT asin FROM products WHERE asin IS NOT NULL AND asin <> ''
			UNION
			SELECT asin FROM order_items WHERE asin IS NOT NULL AND asin <> ''
		) a
		ORDER BY asin COLLATE "C";
	`)
}

// SKUFor resolves the seller SKU to query inventory with: the product's own SKU, else
// the most recent order line SKU, else the ASIN itself.
func (s *ProductStore) SKUFor(ctx context.Context, asin string) (string, error) {
	var sku string
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT NULLIF(sku, '') FROM products WHERE asin = $1),
			(SELECT oi.seller_sku FROM order_items oi
			  JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
			 WHERE oi.asin = $1 AND oi.seller_sku IS NOT NULL AND oi.seller_sku <> ''
			 ORDER BY o.purchase_date DESC LIMIT 1),
			$1
		);
	`, asin).Scan(&sku)
	if err != nil {
		return "", fmt.Errorf("sku for %s: %w", asin, err)
	}
	return sku, nil
}

// ImageState returns the image fields of asin, or nil when the product does not exist.
func (s *ProductStore) ImageState(ctx context.Context, asin string) (*ImageState, error) {
	var st ImageState
	err := s.db.QueryRow(ctx, `
		SELECT image_url, image_key, image_last_checked_at
		FROM products
		WHERE asin = $1;
	`, asin).Scan(&st.ImageURL, &st.ImageKey, &st.LastCheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("image state for %s: %w", asin, err)
	}
	return &st, nil
}

// Costs returns the cost inputs recorded for asin; all fields nil when none exist.
func (s *ProductStore) Costs(ctx context.Context, asin string) (model.CostInputs, error) {
	var c model.CostInputs
	err := s.db.QueryRow(ctx, `
		SELECT unit_cost, storage_cost, freight_cost, variable_pct, tax_pct, manual
		FROM product_costs
		WHERE asin = $1;
	`, asin).Scan(&c.UnitCost, &c.StorageCost, &c.FreightCost, &c.VariablePct, &c.TaxPct, &c.ManualFlag)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CostInputs{}, nil
	}
	if err != nil {
		return model.CostInputs{}, fmt.Errorf("costs for %s: %w", asin, err)
	}
	return c, nil
}

// SalesSince sums revenue and units of asin over orders purchased at or after since.
func (s *ProductStore) SalesSince(ctx context.Context, asin string, since time.Time) (decimal.Decimal, int64, error) {
	var revenue decimal.Decimal
	var units int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(oi.price_amount), 0), COALESCE(SUM(oi.quantity_ordered), 0)
		FROM order_items oi
		JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
		WHERE oi.asin = $1 AND o.purchase_date >= $2;
	`, asin, since).Scan(&revenue, &units)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("sales for %s: %w", asin, err)
	}
	return revenue, units, nil
}

func (s *ProductStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return out, nil
}

func patchArgs(p model.ProductPatch) []any {
	return []any{
		p.ASIN,
		p.SKU,
		p.Title,
		p.Brand,
		p.Category,
		p.ImageURL,
		p.ImageSourceURL,
		p.ImageKey,
		p.Price,
		p.InventoryQuantity,
		p.InStock,
		p.BuyBoxSeller,
		p.SellerCount,
		p.MarketplaceID,
		p.CheckedAt,
	}
}
