package mercadolibre

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }
func (s staticToken) Invalidate()                                 {}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	exec := httpclient.New(zap.NewNop(), srv.Client(), Marketplace, staticToken("APP_USR-1"), httpclient.BearerAuth)
	return NewClient(exec, srv.URL, "123456", nil)
}

func TestSellerItemIDs_PaginatesAndSorts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/users/123456/items/search", r.URL.Path)
		assert.Equal(t, "Bearer APP_USR-1", r.Header.Get("Authorization"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		assert.Equal(t, "scan", r.URL.Query().Get("search_type"))

		switch r.URL.Query().Get("offset") {
		case "0":
			ids := make([]string, 100)
			for i := range ids {
				ids[i] = fmt.Sprintf("\"MLB%03d\"", 200-i)
			}
			_, _ = fmt.Fprintf(w, `{"results":[%s],"paging":{"total":102}}`, strings.Join(ids, ","))
		case "100":
			_, _ = w.Write([]byte(`{"results":["MLB001","MLB200"],"paging":{"total":102}}`))
		default:
			t.Errorf("unexpected offset %s", r.URL.Query().Get("offset"))
		}
	})

	ids, err := c.SellerItemIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, ids, 101)
	assert.Equal(t, "MLB001", ids[0])
	assert.Equal(t, "MLB200", ids[len(ids)-1])
}

func TestSellerItemIDs_PageCap(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		_, _ = fmt.Fprintf(w, `{"results":["MLB%d"],"paging":{"total":1000000}}`, n)
	})
	ids, err := c.SellerItemIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(50), calls.Load())
	assert.Len(t, ids, 50)
}

func TestItems_BatchesAndSkipsFailedEntries(t *testing.T) {
	var batches []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		batches = append(batches, r.URL.Query().Get("ids"))
		var parts []string
		for _, id := range ids {
			if id == "MLB3" {
				parts = append(parts, `{"code":404,"body":{"message":"not found"}}`)
				continue
			}
			parts = append(parts, fmt.Sprintf(`{"code":200,"body":{"id":%q,"title":"t","available_quantity":4,"user_product_id":"UP-%s"}}`, id, id))
		}
		_, _ = w.Write([]byte("[" + strings.Join(parts, ",") + "]"))
	})

	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("MLB%d", i)
	}
	items, err := c.Items(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
	assert.Len(t, items, 24)
	assert.Equal(t, "UP-MLB0", items[0].UserProductID)
}

func TestItems_Variations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"code":200,"body":{"id":"MLB9","variations":[
			{"id":1111,"seller_custom_field":"SKU-A","available_quantity":2,"user_product_id":"UPA"},
			{"id":2222,"available_quantity":0}
		]}}]`))
	})
	items, err := c.Items(context.Background(), []string{"MLB9"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, items[0].Variations, 2)
	assert.Equal(t, "1111", items[0].Variations[0].ID.String())
	assert.Equal(t, "SKU-A", items[0].Variations[0].SellerCustomField)
	assert.Empty(t, items[0].Variations[1].UserProductID)
}

func TestUserProductStock(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user-products/UP1/stock", r.URL.Path)
		_, _ = w.Write([]byte(`{"locations":[{"type":"selling_address","quantity":3},{"type":"meli_facility","quantity":{"available":8}}]}`))
	})
	qty, err := c.UserProductStock(context.Background(), "UP1")
	require.NoError(t, err)
	assert.Equal(t, 8, qty)
}

func TestUserProductStock_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.UserProductStock(context.Background(), "UP404")
	assert.True(t, errors.Is(err, httpclient.ErrNotFound))
}

func TestParseStock(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{"array of plain nodes", `[{"type":"selling_address","quantity":2},{"type":"selling_address","quantity":5}]`, 7, false},
		{"full wins over seller", `[{"type":"selling_address","quantity":10},{"type":"fulfillment","quantity":{"for_sale":4}}]`, 4, false},
		{"negative floored", `[{"type":"selling_address","quantity":-3},{"type":"selling_address","quantity":1}]`, 1, false},
		{"available fallback field", `{"stock":[{"type":"x","available_quantity":6}]}`, 6, false},
		{"unknown array key", `{"nodes":[{"type":"x","available":9}]}`, 9, false},
		{"no quantities", `[{"type":"x"}]`, 0, true},
		{"empty object", `{}`, 0, true},
		{"null", `null`, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseStock([]byte(tc.payload))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoStockNodes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
