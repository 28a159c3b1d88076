// Package workers implements the per-domain fetch-and-apply units driven by the syncer.
package workers

import (
	"context"

	"github.com/Checker-Finance/marketplace-sync/internal/amazon"
	"github.com/Checker-Finance/marketplace-sync/internal/mercadolibre"
	"github.com/Checker-Finance/marketplace-sync/internal/store"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// Sync domain names.
const (
	DomainAmazonInventory = "amazon-inventory"
	DomainAmazonPricing   = "amazon-pricing"
	DomainAmazonCatalog   = "amazon-catalog"
	DomainMLInventory     = "ml-inventory"
)

// Domains lists every supported domain.
var Domains = []string{DomainAmazonInventory, DomainAmazonPricing, DomainAmazonCatalog, DomainMLInventory}

// AmazonAPI is the SP-API surface the Amazon workers use; *amazon.Client satisfies it.
type AmazonAPI interface {
	CatalogItem(ctx context.Context, asin string) (*amazon.CatalogItem, error)
	InventorySummary(ctx context.Context, sku string) (*model.InventoryLevel, error)
	ItemOffers(ctx context.Context, asin string) (*amazon.OfferSummary, error)
}

// Products is the product persistence the Amazon workers use; *store.ProductStore satisfies it.
type Products interface {
	ApplyPatch(ctx context.Context, p model.ProductPatch) (int64, error)
	ASINs(ctx context.Context) ([]string, error)
	SKUFor(ctx context.Context, asin string) (string, error)
	ImageState(ctx context.Context, asin string) (*store.ImageState, error)
}

// MercadoLivreAPI is the surface the ML stock worker uses; *mercadolibre.Client satisfies it.
type MercadoLivreAPI interface {
	SellerItemIDs(ctx context.Context) ([]string, error)
	Items(ctx context.Context, ids []string) ([]mercadolibre.Item, error)
	UserProductStock(ctx context.Context, userProductID string) (int, error)
}

// MLInventory is the ml_inventory persistence; *store.MLInventoryStore satisfies it.
type MLInventory interface {
	Upsert(ctx context.Context, st model.MLStock) error
	Get(ctx context.Context, itemID, variationID string) (*model.MLStock, error)
}

var (
	_ AmazonAPI       = (*amazon.Client)(nil)
	_ Products        = (*store.ProductStore)(nil)
	_ MercadoLivreAPI = (*mercadolibre.Client)(nil)
	_ MLInventory     = (*store.MLInventoryStore)(nil)
)
