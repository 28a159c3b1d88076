package mercadolibre

import "encoding/json"

type searchResponse struct {
	Results []string `json:"results"`
	Paging  struct {
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"paging"`
}

type multiGetEntry struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

// Item is the subset of an item resource the stock sync needs.
type Item struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	SellerCustomField string      `json:"seller_custom_field"`
	AvailableQuantity int         `json:"available_quantity"`
	Status            string      `json:"status"`
	SiteID            string      `json:"site_id"`
	UserProductID     string      `json:"user_product_id"`
	Variations        []Variation `json:"variations"`
}

// Variation is one variation of an item.
type Variation struct {
	ID                json.Number `json:"id"`
	SellerCustomField string      `json:"seller_custom_field"`
	AvailableQuantity int         `json:"available_quantity"`
	UserProductID     string      `json:"user_product_id"`
}

// stockNode is one location of a user product. Quantity is a number for
// selling_address nodes and an object for fulfillment nodes.
type stockNode struct {
	Type              string          `json:"type"`
	Quantity          json.RawMessage `json:"quantity"`
	Available         *int            `json:"available"`
	AvailableQuantity *int            `json:"available_quantity"`
}

type nestedQuantity struct {
	Available *int `json:"available"`
	ForSale   *int `json:"for_sale"`
	Sellable  *int `json:"sellable"`
	Quantity  *int `json:"quantity"`
}

// fullNodeTypes are the fulfillment (FULL) locations. When any is present only they count.
var fullNodeTypes = map[string]bool{
	"meli_facility":    true,
	"fulfillment":      true,
	"meli_fulfillment": true,
	"ml_full":          true,
}
