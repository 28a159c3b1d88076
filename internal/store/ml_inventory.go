package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// MLInventoryStore persists Mercado Livre stock per item and variation.
type MLInventoryStore struct {
	db     DBTX
	logger *zap.Logger
}

// NewMLInventoryStore creates an ml_inventory store on db.
func NewMLInventoryStore(db DBTX, logger *zap.Logger) *MLInventoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MLInventoryStore{db: db, logger: logger}
}

// Upsert writes one stock row keyed by (item_id, variation_id).
func (s *MLInventoryStore) Upsert(ctx context.Context, st model.MLStock) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ml_inventory (
			item_id, variation_id, seller_sku, available_quantity, title, status, site_id, updated_at
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NOW())
		ON CONFLICT (item_id, variation_id)
		DO UPDATE SET
			seller_sku         = COALESCE(EXCLUDED.seller_sku, ml_inventory.seller_sku),
			available_quantity = EXCLUDED.available_quantity,
			title              = COALESCE(EXCLUDED.title, ml_inventory.title),
			status             = COALESCE(EXCLUDED.status, ml_inventory.status),
			site_id            = COALESCE(EXCLUDED.site_id, ml_inventory.site_id),
			updated_at         = NOW();
	`, st.ItemID, st.VariationID, st.SellerSKU, st.Available, st.Title, st.Status, st.SiteID)
	if err != nil {
		s.logger.Error("store.pg.ml_inventory_upsert_failed",
			zap.String("item_id", st.ItemID),
			zap.String("variation_id", st.VariationID),
			zap.Error(err))
		return err
	}
	return nil
}

// Get returns the stored row, or nil when absent.
func (s *MLInventoryStore) Get(ctx context.Context, itemID, variationID string) (*model.MLStock, error) {
	st := model.MLStock{ItemID: itemID, VariationID: variationID}
	var sku, title, status, site *string
	err := s.db.QueryRow(ctx, `
		SELECT seller_sku, available_quantity, title, status, site_id
		FROM ml_inventory
		WHERE item_id = $1 AND variation_id = $2;
	`, itemID, variationID).Scan(&sku, &st.Available, &title, &status, &site)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ml inventory %s/%s: %w", itemID, variationID, err)
	}
	st.SellerSKU, st.Title, st.Status, st.SiteID = deref(sku), deref(title), deref(status), deref(site)
	return &st, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
