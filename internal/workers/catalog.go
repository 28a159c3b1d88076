package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
	"github.com/Checker-Finance/marketplace-sync/internal/syncer"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// ImageFreshness is how long a verified image is trusted before it is re-checked.
const ImageFreshness = 7 * 24 * time.Hour

// Catalog syncs descriptive product data and the primary image.
type Catalog struct {
	api           AmazonAPI
	products      Products
	marketplaceID string
	// imageLock suppresses every image write while a bulk image fix is running.
	imageLock bool
	logger    *zap.Logger
	now       func() time.Time
}

// NewCatalog creates the amazon-catalog worker.
func NewCatalog(api AmazonAPI, products Products, marketplaceID string, imageLock bool, logger *zap.Logger) *Catalog {
	return &Catalog{
		api:           api,
		products:      products,
		marketplaceID: marketplaceID,
		imageLock:     imageLock,
		logger:        logger.Named(DomainAmazonCatalog),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (w *Catalog) Name() string { return DomainAmazonCatalog }

func (w *Catalog) WorkList(ctx context.Context) ([]string, error) {
	asins, err := w.products.ASINs(ctx)
	if err != nil {
		return nil, syncer.Storage(err)
	}
	return asins, nil
}

// Skip is true when the product already has an image URL and key verified within
// ImageFreshness.
func (w *Catalog) Skip(ctx context.Context, asin string) (bool, error) {
	st, err := w.products.ImageState(ctx, asin)
	if err != nil {
		return false, syncer.Storage(err)
	}
	if st == nil || st.ImageURL == nil || *st.ImageURL == "" || st.ImageKey == nil || *st.ImageKey == "" {
		return false, nil
	}
	return st.LastCheckedAt != nil && w.now().Sub(*st.LastCheckedAt) < ImageFreshness, nil
}

func (w *Catalog) Sync(ctx context.Context, asin string) (int64, error) {
	item, err := w.api.CatalogItem(ctx, asin)
	if errors.Is(err, httpclient.ErrNotFound) {
		w.logger.Debug("workers.catalog_not_found", zap.String("asin", asin))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("catalog %s: %w", asin, err)
	}

	patch := model.ProductPatch{
		ASIN:     asin,
		Title:    item.Title,
		Brand:    item.Brand,
		Category: item.Category,
		Price:    item.ListPrice,
	}
	if w.marketplaceID != "" {
		patch.MarketplaceID = model.Ptr(w.marketplaceID)
	}

	switch {
	case w.imageLock:
		if item.ImageURL != nil {
			w.logger.Info("workers.catalog_image_locked", zap.String("asin", asin))
		}
	case item.ImageURL != nil:
		patch.ImageURL = item.ImageURL
		patch.ImageSourceURL = item.ImageURL
		patch.ImageKey = item.ImageKey
		patch.CheckedAt = model.Ptr(w.now())
	}

	n, err := w.products.ApplyPatch(ctx, patch)
	if err != nil {
		return 0, syncer.Storage(err)
	}
	return n, nil
}
