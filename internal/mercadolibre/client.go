package mercadolibre

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
)

// Marketplace is the name used in logs, metrics and credential lookups.
const Marketplace = "mercadolivre"

// DefaultBaseURL is the public Mercado Livre API.
const DefaultBaseURL = "https://api.mercadolibre.com"

const (
	searchPageSize = 100
	searchMaxPages = 50
	multiGetBatch  = 20
)

// ErrNoStockNodes is returned when a stock payload carries no readable quantity.
var ErrNoStockNodes = errors.New("mercadolibre: no valid stock nodes")

// Client is a typed Mercado Livre API client. Like the SP-API client it never retries.
type Client struct {
	exec     *httpclient.Executor
	baseURL  string
	sellerID string
	gov      httpclient.Throttler
}

// NewClient creates a client for sellerID.
func NewClient(exec *httpclient.Executor, baseURL, sellerID string, gov httpclient.Throttler) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		exec:     exec,
		baseURL:  strings.TrimRight(baseURL, "/"),
		sellerID: sellerID,
		gov:      gov,
	}
}

// SellerItemIDs scans the seller's active listings and returns their ids sorted.
func (c *Client) SellerItemIDs(ctx context.Context) ([]string, error) {
	if c.sellerID == "" {
		return nil, fmt.Errorf("mercadolibre: seller id not configured")
	}

	seen := make(map[string]struct{})
	var ids []string
	offset := 0

	for page := 0; page < searchMaxPages; page++ {
		q := url.Values{}
		q.Set("status", "active")
		q.Set("search_type", "scan")
		q.Set("limit", strconv.Itoa(searchPageSize))
		q.Set("offset", strconv.Itoa(offset))

		req, err := http.NewRequest(http.MethodGet,
			c.baseURL+"/users/"+url.PathEscape(c.sellerID)+"/items/search?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var resp searchResponse
		if err := c.exec.DoJSON(ctx, c.gov, "items_search", req, &resp); err != nil {
			return nil, err
		}
		if len(resp.Results) == 0 {
			break
		}
		for _, id := range resp.Results {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		offset += searchPageSize
		if resp.Paging.Total == 0 || offset >= resp.Paging.Total {
			break
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// Items multi-gets item resources in batches of 20. Entries answered with a non-200
// code are omitted; callers treat a missing id as not found.
func (c *Client) Items(ctx context.Context, ids []string) ([]Item, error) {
	var out []Item
	for start := 0; start < len(ids); start += multiGetBatch {
		end := min(start+multiGetBatch, len(ids))

		req, err := http.NewRequest(http.MethodGet,
			c.baseURL+"/items?ids="+url.QueryEscape(strings.Join(ids[start:end], ",")), nil)
		if err != nil {
			return nil, err
		}

		var entries []multiGetEntry
		if err := c.exec.DoJSON(ctx, c.gov, "items_multiget", req, &entries); err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Code != http.StatusOK || len(e.Body) == 0 {
				continue
			}
			var it Item
			if err := json.Unmarshal(e.Body, &it); err != nil {
				return nil, &httpclient.UpstreamError{
					Marketplace: Marketplace, Op: "items_multiget", Outcome: httpclient.OutcomeTransient,
					Status: http.StatusOK, Err: fmt.Errorf("decode item: %w", err),
				}
			}
			out = append(out, it)
		}
	}
	return out, nil
}

// UserProductStock returns the available quantity of a user product summed across its
// stock locations. Fulfillment locations win over seller locations when both exist.
func (c *Client) UserProductStock(ctx context.Context, userProductID string) (int, error) {
	req, err := http.NewRequest(http.MethodGet,
		c.baseURL+"/user-products/"+url.PathEscape(userProductID)+"/stock", nil)
	if err != nil {
		return 0, err
	}

	var raw json.RawMessage
	if err := c.exec.DoJSON(ctx, c.gov, "user_product_stock", req, &raw); err != nil {
		return 0, err
	}
	return ParseStock(raw)
}

// ParseStock sums a /user-products/{id}/stock payload. The payload is either an array of
// nodes or an object holding one (usually under "locations" or "stock").
func ParseStock(raw []byte) (int, error) {
	nodes, err := stockNodes(raw)
	if err != nil {
		return 0, err
	}

	var fullTotal, otherTotal, fullCount, otherCount int
	for _, n := range nodes {
		q, ok := n.quantity()
		if !ok {
			continue
		}
		q = max(q, 0)
		if fullNodeTypes[n.Type] {
			fullTotal += q
			fullCount++
		} else {
			otherTotal += q
			otherCount++
		}
	}

	switch {
	case fullCount > 0:
		return fullTotal, nil
	case otherCount > 0:
		return otherTotal, nil
	}
	return 0, ErrNoStockNodes
}

func stockNodes(raw []byte) ([]stockNode, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoStockNodes
	}

	if raw[0] == '[' {
		var nodes []stockNode
		if err := json.Unmarshal(raw, &nodes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoStockNodes, err)
		}
		return nodes, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStockNodes, err)
	}
	for _, key := range []string{"locations", "stock"} {
		if v, ok := obj[key]; ok && len(v) > 0 && v[0] == '[' {
			var nodes []stockNode
			if err := json.Unmarshal(v, &nodes); err == nil {
				return nodes, nil
			}
		}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := bytes.TrimSpace(obj[k])
		if len(v) > 0 && v[0] == '[' {
			var nodes []stockNode
			if err := json.Unmarshal(v, &nodes); err == nil {
				return nodes, nil
			}
		}
	}
	return nil, ErrNoStockNodes
}

func (n stockNode) quantity() (int, bool) {
	q := bytes.TrimSpace(n.Quantity)
	if len(q) > 0 && !bytes.Equal(q, []byte("null")) {
		if q[0] == '{' {
			var nq nestedQuantity
			if err := json.Unmarshal(q, &nq); err == nil {
				for _, v := range []*int{nq.Available, nq.ForSale, nq.Sellable, nq.Quantity} {
					if v != nil {
						return *v, true
					}
				}
			}
			return 0, false
		}
		var f float64
		if err := json.Unmarshal(q, &f); err == nil {
			return int(f), true
		}
		return 0, false
	}
	if n.Available != nil {
		return *n.Available, true
	}
	if n.AvailableQuantity != nil {
		return *n.AvailableQuantity, true
	}
	return 0, false
}
