package amazon

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// ─── catalog items 2022-04-01 ───────────────────────────────────────────────

type catalogItemResponse struct {
	ASIN         string               `json:"asin"`
	Summaries    []catalogSummary     `json:"summaries"`
	Images       []catalogImageSet    `json:"images"`
	ProductTypes []catalogProductType `json:"productTypes"`
	Attributes   catalogAttributes    `json:"attributes"`
}

type catalogSummary struct {
	MarketplaceID string `json:"marketplaceId"`
	ItemName      string `json:"itemName"`
	Brand         string `json:"brand"`
	BrandName     string `json:"brandName"`
}

type catalogImageSet struct {
	MarketplaceID string         `json:"marketplaceId"`
	Images        []catalogImage `json:"images"`
}

type catalogImage struct {
	Variant string `json:"variant"`
	Link    string `json:"link"`
	Height  int    `json:"height"`
	Width   int    `json:"width"`
}

type catalogProductType struct {
	MarketplaceID string `json:"marketplaceId"`
	ProductType   string `json:"productType"`
}

type catalogAttributes struct {
	ListPrice []struct {
		Value    *decimal.Decimal `json:"value"`
		Currency string           `json:"currency"`
	} `json:"list_price"`
}

// CatalogItem is the normalized catalog payload. Nil fields were absent upstream.
type CatalogItem struct {
	ASIN      string
	Title     *string
	Brand     *string
	Category  *string
	ImageURL  *string
	ImageKey  *string
	ListPrice *decimal.Decimal
}

// ─── FBA inventory summaries v1 ─────────────────────────────────────────────

type inventorySummariesResponse struct {
	Payload struct {
		InventorySummaries []inventorySummary `json:"inventorySummaries"`
	} `json:"payload"`
	Pagination struct {
		NextToken string `json:"nextToken"`
	} `json:"pagination"`
}

type inventorySummary struct {
	ASIN             string           `json:"asin"`
	FnSKU            string           `json:"fnSku"`
	SellerSKU        string           `json:"sellerSku"`
	TotalQuantity    int              `json:"totalQuantity"`
	InventoryDetails inventoryDetails `json:"inventoryDetails"`
}

type inventoryDetails struct {
	FulfillableQuantity      int `json:"fulfillableQuantity"`
	InboundWorkingQuantity   int `json:"inboundWorkingQuantity"`
	InboundShippedQuantity   int `json:"inboundShippedQuantity"`
	InboundReceivingQuantity int `json:"inboundReceivingQuantity"`
	ReservedQuantity         struct {
		TotalReservedQuantity int `json:"totalReservedQuantity"`
	} `json:"reservedQuantity"`
}

// ─── product pricing v0 getItemOffers ───────────────────────────────────────

type itemOffersResponse struct {
	Payload struct {
		ASIN    string  `json:"ASIN"`
		Status  string  `json:"status"`
		Offers  []offer `json:"Offers"`
		Summary struct {
			TotalOfferCount int `json:"TotalOfferCount"`
		} `json:"Summary"`
	} `json:"payload"`
}

type offer struct {
	SellerID       string `json:"SellerId"`
	IsBuyBoxWinner bool   `json:"IsBuyBoxWinner"`
	ListingPrice   struct {
		Amount       *decimal.Decimal `json:"Amount"`
		CurrencyCode string           `json:"CurrencyCode"`
	} `json:"ListingPrice"`
}

// OfferSummary is the normalized pricing payload.
type OfferSummary struct {
	ASIN         string
	SellerCount  int
	BuyBoxSeller *string
	BuyBoxPrice  *decimal.Decimal
}

var imageKeyRegex = regexp.MustCompile(`(?i)/([A-Z0-9]+)\._`)

// ImageKey extracts the media key from an Amazon image URL
// (".../images/I/71HFnH5XWEL._SL1500_.jpg" → "71HFnH5XWEL").
func ImageKey(url string) (string, bool) {
	m := imageKeyRegex.FindStringSubmatch(url)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
