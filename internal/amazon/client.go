package amazon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// Marketplace is the name used in logs, metrics and credential lookups.
const Marketplace = "amazon"

// Governor keys for the three SP-API operation families.
const (
	GovCatalog   = "amazon.catalog"
	GovInventory = "amazon.inventory"
	GovPricing   = "amazon.pricing"
)

var regionEndpoints = map[string]string{
	"na": "https://sellingpartnerapi-na.amazon.com",
	"eu": "https://sellingpartnerapi-eu.amazon.com",
	"fe": "https://sellingpartnerapi-fe.amazon.com",
}

// Endpoint returns the SP-API base URL for a region code.
func Endpoint(region string) (string, error) {
	if u, ok := regionEndpoints[strings.ToLower(region)]; ok {
		return u, nil
	}
	return "", fmt.Errorf("amazon: unknown SP-API region %q", region)
}

// Governors paces each operation family independently.
type Governors struct {
	Catalog   httpclient.Throttler
	Inventory httpclient.Throttler
	Pricing   httpclient.Throttler
}

// Client is a typed SP-API client. Each method is one logical call; failures come back
// as classified *httpclient.UpstreamError values and are never retried here.
type Client struct {
	exec          *httpclient.Executor
	baseURL       string
	marketplaceID string
	govs          Governors
}

// NewClient creates a client for baseURL and marketplaceID.
func NewClient(exec *httpclient.Executor, baseURL, marketplaceID string, govs Governors) *Client {
	return &Client{
		exec:          exec,
		baseURL:       strings.TrimRight(baseURL, "/"),
		marketplaceID: marketplaceID,
		govs:          govs,
	}
}

// MarketplaceID returns the marketplace this client queries.
func (c *Client) MarketplaceID() string { return c.marketplaceID }

func (c *Client) newRequest(path string, q url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return http.NewRequest(http.MethodGet, u, nil)
}

// CatalogItem fetches summaries, images, product types and attributes for asin.
func (c *Client) CatalogItem(ctx context.Context, asin string) (*CatalogItem, error) {
	q := url.Values{}
	q.Set("marketplaceIds", c.marketplaceID)
	q.Set("includedData", "summaries,images,productTypes,attributes")

	req, err := c.newRequest("/catalog/2022-04-01/items/"+url.PathEscape(asin), q)
	if err != nil {
		return nil, err
	}

	var resp catalogItemResponse
	if err := c.exec.DoJSON(ctx, c.govs.Catalog, "catalog_item", req, &resp); err != nil {
		return nil, err
	}
	return normalizeCatalog(asin, &resp), nil
}

// InventorySummary fetches the FBA inventory of sku. A SKU unknown to FBA answers
// with an empty list, which is reported as httpclient.ErrNotFound.
func (c *Client) InventorySummary(ctx context.Context, sku string) (*model.InventoryLevel, error) {
	q := url.Values{}
	q.Set("granularityType", "Marketplace")
	q.Set("granularityId", c.marketplaceID)
	q.Set("marketplaceIds", c.marketplaceID)
	q.Set("details", "true")
	q.Set("sellerSkus", sku)

	req, err := c.newRequest("/fba/inventory/v1/summaries", q)
	if err != nil {
		return nil, err
	}

	var resp inventorySummariesResponse
	if err := c.exec.DoJSON(ctx, c.govs.Inventory, "inventory_summaries", req, &resp); err != nil {
		return nil, err
	}

	for _, s := range resp.Payload.InventorySummaries {
		if s.SellerSKU == "" || strings.EqualFold(s.SellerSKU, sku) {
			d := s.InventoryDetails
			return &model.InventoryLevel{
				ASIN:             s.ASIN,
				SKU:              sku,
				Fulfillable:      d.FulfillableQuantity,
				InboundWorking:   d.InboundWorkingQuantity,
				InboundShipped:   d.InboundShippedQuantity,
				InboundReceiving: d.InboundReceivingQuantity,
				Reserved:         d.ReservedQuantity.TotalReservedQuantity,
			}, nil
		}
	}
	return nil, &httpclient.UpstreamError{
		Marketplace: Marketplace,
		Op:          "inventory_summaries",
		Outcome:     httpclient.OutcomeNotFound,
		Status:      http.StatusOK,
	}
}

// ItemOffers fetches new-condition offers for asin.
func (c *Client) ItemOffers(ctx context.Context, asin string) (*OfferSummary, error) {
	q := url.Values{}
	q.Set("MarketplaceId", c.marketplaceID)
	q.Set("ItemCondition", "New")

	req, err := c.newRequest("/products/pricing/v0/items/"+url.PathEscape(asin)+"/offers", q)
	if err != nil {
		return nil, err
	}

	var resp itemOffersResponse
	if err := c.exec.DoJSON(ctx, c.govs.Pricing, "item_offers", req, &resp); err != nil {
		return nil, err
	}

	out := &OfferSummary{ASIN: asin, SellerCount: len(resp.Payload.Offers)}
	for _, o := range resp.Payload.Offers {
		if o.IsBuyBoxWinner && o.SellerID != "" {
			seller := o.SellerID
			out.BuyBoxSeller = &seller
			out.BuyBoxPrice = o.ListingPrice.Amount
			break
		}
	}
	return out, nil
}

func normalizeCatalog(asin string, r *catalogItemResponse) *CatalogItem {
	item := &CatalogItem{ASIN: asin}

	if len(r.Summaries) > 0 {
		s := r.Summaries[0]
		item.Title = nonEmpty(s.ItemName)
		item.Brand = nonEmpty(s.Brand)
		if item.Brand == nil {
			item.Brand = nonEmpty(s.BrandName)
		}
	}
	if len(r.ProductTypes) > 0 {
		item.Category = nonEmpty(r.ProductTypes[0].ProductType)
	}
	if img := pickImage(r.Images); img != "" {
		item.ImageURL = &img
		if key, ok := ImageKey(img); ok {
			item.ImageKey = &key
		}
	}
	if len(r.Attributes.ListPrice) > 0 && r.Attributes.ListPrice[0].Value != nil {
		p := *r.Attributes.ListPrice[0].Value
		if p.IsPositive() {
			item.ListPrice = &p
		}
	}
	return item
}

// pickImage prefers the largest MAIN variant, then PT01, then the first image.
func pickImage(sets []catalogImageSet) string {
	if len(sets) == 0 || len(sets[0].Images) == 0 {
		return ""
	}
	images := sets[0].Images

	var best *catalogImage
	for i := range images {
		img := &images[i]
		if img.Variant == "MAIN" && img.Link != "" && (best == nil || img.Width*img.Height > best.Width*best.Height) {
			best = img
		}
	}
	if best != nil {
		return best.Link
	}
	for _, img := range images {
		if img.Variant == "PT01" && img.Link != "" {
			return img.Link
		}
	}
	return images[0].Link
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
