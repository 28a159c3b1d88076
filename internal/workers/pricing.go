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

// Pricing syncs competitive data (seller count, buy-box winner) from the offers endpoint.
type Pricing struct {
	api      AmazonAPI
	products Products
	logger   *zap.Logger
}

// NewPricing creates the amazon-pricing worker.
func NewPricing(api AmazonAPI, products Products, logger *zap.Logger) *Pricing {
	return &Pricing{api: api, products: products, logger: logger.Named(DomainAmazonPricing)}
}

func (w *Pricing) Name() string { return DomainAmazonPricing }

func (w *Pricing) WorkList(ctx context.Context) ([]string, error) {
	asins, err := w.products.ASINs(ctx)
	if err != nil {
		return nil, syncer.Storage(err)
	}
	return asins, nil
}

func (w *Pricing) Skip(context.Context, string) (bool, error) { return false, nil }

func (w *Pricing) Sync(ctx context.Context, asin string) (int64, error) {
	offers, err := w.api.ItemOffers(ctx, asin)
	if errors.Is(err, httpclient.ErrNotFound) {
		w.logger.Debug("workers.pricing_not_found", zap.String("asin", asin))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("offers %s: %w", asin, err)
	}

	n, err := w.products.ApplyPatch(ctx, model.ProductPatch{
		ASIN:         asin,
		SellerCount:  model.Ptr(offers.SellerCount),
		BuyBoxSeller: offers.BuyBoxSeller,
	})
	if err != nil {
		return 0, syncer.Storage(err)
	}
	return n, nil
}
