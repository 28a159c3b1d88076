package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductPatch is a partial product update. Nil fields leave the stored value untouched,
// so workers owning different fields never erase each other's data.
type ProductPatch struct {
	ASIN              string
	SKU               *string
	Title             *string
	Brand             *string
	Category          *string
	ImageURL          *string
	ImageSourceURL    *string
	ImageKey          *string
	Price             *decimal.Decimal
	InventoryQuantity *int
	InStock           *bool
	BuyBoxSeller      *string
	SellerCount       *int
	MarketplaceID     *string
	CheckedAt         *time.Time
}

// HasDescriptiveField reports whether the patch carries anything worth creating a row for.
func (p ProductPatch) HasDescriptiveField() bool {
	return p.Title != nil || p.Brand != nil || p.Category != nil || p.ImageURL != nil || p.Price != nil
}

// Empty reports whether the patch would change nothing.
func (p ProductPatch) Empty() bool {
	return !p.HasDescriptiveField() && p.SKU == nil && p.ImageSourceURL == nil && p.ImageKey == nil &&
		p.InventoryQuantity == nil && p.InStock == nil && p.BuyBoxSeller == nil &&
		p.SellerCount == nil && p.MarketplaceID == nil
}

// InventoryLevel is a normalized stock reading for one SKU.
type InventoryLevel struct {
	ASIN             string
	SKU              string
	Fulfillable      int
	InboundWorking   int
	InboundShipped   int
	InboundReceiving int
	Reserved         int
}

// Available is fulfillable plus all inbound minus reserved. It is not floored at zero;
// a negative value is an upstream anomaly the caller should surface.
func (l InventoryLevel) Available() int {
	return l.Fulfillable + l.InboundWorking + l.InboundShipped + l.InboundReceiving - l.Reserved
}

// InStock reports Available() > 0.
func (l InventoryLevel) InStock() bool {
	return l.Available() > 0
}

// MLStock is the stock of one Mercado Livre item or variation.
type MLStock struct {
	ItemID      string
	VariationID string
	SellerSKU   string
	Title       string
	Status      string
	SiteID      string
	Available   int
}

// Ptr returns a pointer to v; handy when building patches.
func Ptr[T any](v T) *T {
	return &v
}
