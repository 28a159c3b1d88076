package workers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
	"github.com/Checker-Finance/marketplace-sync/internal/syncer"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// Inventory syncs FBA stock into products.inventory_quantity and products.in_stock.
type Inventory struct {
	api      AmazonAPI
	products Products
	logger   *zap.Logger
}

// NewInventory creates the amazon-inventory worker.
func NewInventory(api AmazonAPI, products Products, logger *zap.Logger) *Inventory {
	return &Inventory{api: api, products: products, logger: logger.Named(DomainAmazonInventory)}
}

func (w *Inventory) Name() string { return DomainAmazonInventory }

func (w *Inventory) WorkList(ctx context.Context) ([]string, error) {
	asins, err := w.products.ASINs(ctx)
	if err != nil {
		return nil, syncer.Storage(err)
	}
	return asins, nil
}

func (w *Inventory) Skip(context.Context, string) (bool, error) { return false, nil }

// Sync reads the FBA summary of the ASIN's seller SKU. An SKU unknown to FBA counts as
// zero stock.
func (w *Inventory) Sync(ctx context.Context, asin string) (int64, error) {
	sku, err := w.products.SKUFor(ctx, asin)
	if err != nil {
		return 0, syncer.Storage(err)
	}

	level, err := w.api.InventorySummary(ctx, sku)
	switch {
	case errors.Is(err, httpclient.ErrNotFound):
		level = &model.InventoryLevel{ASIN: asin, SKU: sku}
	case err != nil:
		return 0, fmt.Errorf("inventory %s: %w", sku, err)
	}

	available := level.Available()
	if available < 0 {
		w.logger.Warn("workers.inventory_negative_available",
			zap.String("asin", asin),
			zap.String("sku", sku),
			zap.Int("fulfillable", level.Fulfillable),
			zap.Int("reserved", level.Reserved),
			zap.Int("available", available))
	}

	patch := model.ProductPatch{
		ASIN:              asin,
		InventoryQuantity: model.Ptr(available),
		InStock:           model.Ptr(level.InStock()),
	}
	if sku != asin {
		patch.SKU = model.Ptr(sku)
	}

	n, err := w.products.ApplyPatch(ctx, patch)
	if err != nil {
		return 0, syncer.Storage(err)
	}
	return n, nil
}
