package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/secrets"
	"github.com/Checker-Finance/marketplace-sync/internal/store"
	"github.com/Checker-Finance/marketplace-sync/internal/store/storetest"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

func TestPostgresStores(t *testing.T) {
	pool := storetest.NewPool(t)
	ctx := context.Background()

	t.Run("migrate is repeatable", func(t *testing.T) {
		require.NoError(t, store.Migrate(ctx, pool))
	})

	t.Run("patch never clears fields", func(t *testing.T) {
		products := store.NewProductStore(pool, zap.NewNop())

		n, err := products.ApplyPatch(ctx, model.ProductPatch{
			ASIN:     "B0PATCH001",
			Title:    model.Ptr("Cutting Board"),
			Brand:    model.Ptr("Acme"),
			ImageURL: model.Ptr("https://m.media-amazon.com/images/I/KEY1._SL1500_.jpg"),
			ImageKey: model.Ptr("KEY1"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = products.ApplyPatch(ctx, model.ProductPatch{
			ASIN:              "B0PATCH001",
			InventoryQuantity: model.Ptr(7),
			InStock:           model.Ptr(true),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		var title, brand, imageURL string
		var qty int
		var inStock bool
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT title, brand, image_url, inventory_quantity, in_stock FROM products WHERE asin = $1`,
			"B0PATCH001").Scan(&title, &brand, &imageURL, &qty, &inStock))
		assert.Equal(t, "Cutting Board", title)
		assert.Equal(t, "Acme", brand)
		assert.Contains(t, imageURL, "KEY1")
		assert.Equal(t, 7, qty)
		assert.True(t, inStock)
	})

	t.Run("no insert without descriptive field", func(t *testing.T) {
		products := store.NewProductStore(pool, zap.NewNop())
		n, err := products.ApplyPatch(ctx, model.ProductPatch{
			ASIN:        "B0GHOST001",
			SellerCount: model.Ptr(3),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		var count int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE asin = 'B0GHOST001'`).Scan(&count))
		assert.Equal(t, 0, count)
	})

	t.Run("work list and sku resolution", func(t *testing.T) {
		products := store.NewProductStore(pool, zap.NewNop())
		storetest.Exec(t, pool, `INSERT INTO orders (amazon_order_id, purchase_date, order_total_amount) VALUES ('111-1', NOW(), 30)`)
		storetest.Exec(t, pool, `INSERT INTO order_items (amazon_order_id, asin, seller_sku, quantity_ordered, price_amount)
			VALUES ('111-1', 'B0ORDER001', 'SKU-ORDER', 2, 30)`)

		asins, err := products.ASINs(ctx)
		require.NoError(t, err)
		assert.Contains(t, asins, "B0ORDER001")
		assert.Contains(t, asins, "B0PATCH001")
		assert.IsNonDecreasing(t, asins)

		sku, err := products.SKUFor(ctx, "B0ORDER001")
		require.NoError(t, err)
		assert.Equal(t, "SKU-ORDER", sku)

		sku, err = products.SKUFor(ctx, "B0PATCH001")
		require.NoError(t, err)
		assert.Equal(t, "B0PATCH001", sku)

		revenue, units, err := products.SalesSince(ctx, "B0ORDER001", time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.True(t, revenue.Equal(decimal.NewFromInt(30)))
		assert.Equal(t, int64(2), units)
	})

	t.Run("image state and costs", func(t *testing.T) {
		products := store.NewProductStore(pool, zap.NewNop())
		st, err := products.ImageState(ctx, "B0PATCH001")
		require.NoError(t, err)
		require.NotNil(t, st)
		require.NotNil(t, st.ImageKey)
		assert.Equal(t, "KEY1", *st.ImageKey)
		assert.Nil(t, st.LastCheckedAt)

		st, err = products.ImageState(ctx, "B0MISSING1")
		require.NoError(t, err)
		assert.Nil(t, st)

		costs, err := products.Costs(ctx, "B0PATCH001")
		require.NoError(t, err)
		assert.False(t, costs.Known())

		storetest.Exec(t, pool, `INSERT INTO product_costs (asin, unit_cost, tax_pct) VALUES ('B0PATCH001', 4.50, 10)`)
		costs, err = products.Costs(ctx, "B0PATCH001")
		require.NoError(t, err)
		require.NotNil(t, costs.UnitCost)
		assert.Equal(t, "4.5", costs.UnitCost.String())
		assert.Nil(t, costs.StorageCost)
	})

	t.Run("ml inventory upsert", func(t *testing.T) {
		ml := store.NewMLInventoryStore(pool, zap.NewNop())
		require.NoError(t, ml.Upsert(ctx, model.MLStock{ItemID: "MLB1", SellerSKU: "SKU-A", Title: "Tábua", Available: 5}))
		require.NoError(t, ml.Upsert(ctx, model.MLStock{ItemID: "MLB1", VariationID: "99", Available: 2}))
		require.NoError(t, ml.Upsert(ctx, model.MLStock{ItemID: "MLB1", Available: 3}))

		got, err := ml.Get(ctx, "MLB1", "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 3, got.Available)
		assert.Equal(t, "SKU-A", got.SellerSKU)
		assert.Equal(t, "Tábua", got.Title)

		got, err = ml.Get(ctx, "MLB1", "99")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 2, got.Available)

		got, err = ml.Get(ctx, "MLB404", "")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("progress round trip", func(t *testing.T) {
		ps := store.NewPGProgressStore(pool, zap.NewNop())
		p := *model.NewSyncProgress("amazon-inventory", time.Now().UTC())
		p.Total = 5
		p.Processed = 2
		p.LastProcessed = "B0002"
		p.Failed = append(p.Failed, model.FailedItem{ID: "B0001", Class: "invalid", Attempts: 1})
		require.NoError(t, ps.Save(ctx, p))

		p.Processed = 3
		p.LastProcessed = "B0003"
		require.NoError(t, ps.Save(ctx, p))

		got, err := ps.Load(ctx, "amazon-inventory")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.RunID, got.RunID)
		assert.Equal(t, "B0003", got.LastProcessed)
		assert.Len(t, got.Failed, 1)

		all, err := ps.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, ps.Delete(ctx, "amazon-inventory"))
		got, err = ps.Load(ctx, "amazon-inventory")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("rotated refresh token overlays base credentials", func(t *testing.T) {
		cs := store.NewCredentialStore(pool, zap.NewNop())
		base := secrets.StaticSource{"amazon": {ClientID: "id", ClientSecret: "secret", RefreshToken: "Atzr|original"}}
		src := store.RotatingSource{Base: base, Store: cs}

		creds, err := src.Credentials(ctx, "amazon")
		require.NoError(t, err)
		assert.Equal(t, "Atzr|original", creds.RefreshToken)

		require.NoError(t, cs.SaveRefreshToken(ctx, "amazon", "Atzr|rotated"))
		creds, err = src.Credentials(ctx, "amazon")
		require.NoError(t, err)
		assert.Equal(t, "Atzr|rotated", creds.RefreshToken)
		assert.Equal(t, "id", creds.ClientID)

		assert.Error(t, cs.SaveRefreshToken(ctx, "amazon", ""))
	})

	t.Run("health check", func(t *testing.T) {
		require.NoError(t, store.HealthCheck(ctx, pool, nil))
	})
}
