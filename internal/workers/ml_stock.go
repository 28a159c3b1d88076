package workers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
	"github.com/Checker-Finance/marketplace-sync/internal/mercadolibre"
	"github.com/Checker-Finance/marketplace-sync/internal/syncer"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// MLStock syncs Mercado Livre stock per item and variation into ml_inventory.
type MLStock struct {
	api    MercadoLivreAPI
	store  MLInventory
	logger *zap.Logger
}

// NewMLStock creates the ml-inventory worker.
func NewMLStock(api MercadoLivreAPI, store MLInventory, logger *zap.Logger) *MLStock {
	return &MLStock{api: api, store: store, logger: logger.Named(DomainMLInventory)}
}

func (w *MLStock) Name() string { return DomainMLInventory }

func (w *MLStock) WorkList(ctx context.Context) ([]string, error) {
	return w.api.SellerItemIDs(ctx)
}

func (w *MLStock) Skip(context.Context, string) (bool, error) { return false, nil }

// Sync writes one row per variation, or a single row with an empty variation id for
// items without variations. An item the API no longer returns is written as zero stock.
func (w *MLStock) Sync(ctx context.Context, itemID string) (int64, error) {
	items, err := w.api.Items(ctx, []string{itemID})
	if err != nil {
		return 0, fmt.Errorf("item %s: %w", itemID, err)
	}
	if len(items) == 0 {
		if err := w.store.Upsert(ctx, model.MLStock{ItemID: itemID}); err != nil {
			return 0, syncer.Storage(err)
		}
		return 1, nil
	}
	item := items[0]

	if len(item.Variations) == 0 {
		return w.apply(ctx, item, "", item.SellerCustomField, item.UserProductID, item.AvailableQuantity)
	}

	var written int64
	for _, v := range item.Variations {
		sku := v.SellerCustomField
		if sku == "" {
			sku = item.SellerCustomField
		}
		n, err := w.apply(ctx, item, v.ID.String(), sku, v.UserProductID, v.AvailableQuantity)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// apply resolves the quantity of one row. The user-product stock endpoint is the source
// of truth; the listing quantity is used only when there is no user product, or when the
// stock payload is unreadable and no row exists yet.
func (w *MLStock) apply(ctx context.Context, item mercadolibre.Item, variationID, sku, userProductID string, listing int) (int64, error) {
	qty := listing
	if userProductID != "" {
		stock, err := w.api.UserProductStock(ctx, userProductID)
		switch {
		case err == nil:
			qty = stock
		case errors.Is(err, httpclient.ErrNotFound):
			qty = 0
		case errors.Is(err, mercadolibre.ErrNoStockNodes):
			existing, gerr := w.store.Get(ctx, item.ID, variationID)
			if gerr != nil {
				return 0, syncer.Storage(gerr)
			}
			if existing != nil {
				w.logger.Warn("workers.ml_stock_unreadable_kept",
					zap.String("item_id", item.ID),
					zap.String("variation_id", variationID),
					zap.Int("stored", existing.Available))
				return 0, nil
			}
		default:
			return 0, fmt.Errorf("stock %s: %w", userProductID, err)
		}
	}

	if qty < 0 {
		w.logger.Warn("workers.ml_stock_negative_available",
			zap.String("item_id", item.ID),
			zap.String("variation_id", variationID),
			zap.String("sku", sku),
			zap.Int("available", qty))
	}

	err := w.store.Upsert(ctx, model.MLStock{
		ItemID:      item.ID,
		VariationID: variationID,
		SellerSKU:   sku,
		Title:       item.Title,
		Status:      item.Status,
		SiteID:      item.SiteID,
		Available:   qty,
	})
	if err != nil {
		return 0, syncer.Storage(err)
	}
	return 1, nil
}
