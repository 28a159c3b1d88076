package workers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Checker-Finance/marketplace-sync/internal/amazon"
	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
	"github.com/Checker-Finance/marketplace-sync/internal/mercadolibre"
	"github.com/Checker-Finance/marketplace-sync/internal/store"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

func notFound(op string) error {
	return &httpclient.UpstreamError{Marketplace: "test", Op: op, Outcome: httpclient.OutcomeNotFound, Status: 404}
}

type fakeAmazon struct {
	catalog   map[string]*amazon.CatalogItem
	inventory map[string]*model.InventoryLevel
	offers    map[string]*amazon.OfferSummary
	err       error
	calls     int
}

func (f *fakeAmazon) CatalogItem(_ context.Context, asin string) (*amazon.CatalogItem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if it, ok := f.catalog[asin]; ok {
		return it, nil
	}
	return nil, notFound("catalog_item")
}

func (f *fakeAmazon) InventorySummary(_ context.Context, sku string) (*model.InventoryLevel, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if lvl, ok := f.inventory[sku]; ok {
		return lvl, nil
	}
	return nil, notFound("inventory_summaries")
}

func (f *fakeAmazon) ItemOffers(_ context.Context, asin string) (*amazon.OfferSummary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if o, ok := f.offers[asin]; ok {
		return o, nil
	}
	return nil, notFound("item_offers")
}

type fakeProducts struct {
	mu      sync.Mutex
	patches []model.ProductPatch
	asins   []string
	skus    map[string]string
	images  map[string]*store.ImageState
	err     error
}

func (f *fakeProducts) ApplyPatch(_ context.Context, p model.ProductPatch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.patches = append(f.patches, p)
	return 1, nil
}

func (f *fakeProducts) ASINs(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]string(nil), f.asins...)
	sort.Strings(out)
	return out, nil
}

func (f *fakeProducts) SKUFor(_ context.Context, asin string) (string, error) {
	if sku, ok := f.skus[asin]; ok {
		return sku, nil
	}
	return asin, nil
}

func (f *fakeProducts) ImageState(_ context.Context, asin string) (*store.ImageState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.images[asin], nil
}

func (f *fakeProducts) last() model.ProductPatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches[len(f.patches)-1]
}

type fakeML struct {
	ids      []string
	items    map[string]mercadolibre.Item
	stock    map[string]int
	stockErr map[string]error
}

func (f *fakeML) SellerItemIDs(context.Context) ([]string, error) { return f.ids, nil }

func (f *fakeML) Items(_ context.Context, ids []string) ([]mercadolibre.Item, error) {
	var out []mercadolibre.Item
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeML) UserProductStock(_ context.Context, id string) (int, error) {
	if err, ok := f.stockErr[id]; ok {
		return 0, err
	}
	if q, ok := f.stock[id]; ok {
		return q, nil
	}
	return 0, notFound("user_product_stock")
}

type fakeMLStore struct {
	rows map[string]model.MLStock
}

func newFakeMLStore() *fakeMLStore { return &fakeMLStore{rows: map[string]model.MLStock{}} }

func (f *fakeMLStore) Upsert(_ context.Context, st model.MLStock) error {
	f.rows[st.ItemID+"/"+st.VariationID] = st
	return nil
}

func (f *fakeMLStore) Get(_ context.Context, itemID, variationID string) (*model.MLStock, error) {
	st, ok := f.rows[itemID+"/"+variationID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func fixedNow() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
