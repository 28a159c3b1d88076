package integrity_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/integrity"
	"github.com/Checker-Finance/marketplace-sync/internal/store/storetest"
)

func TestIntegrity(t *testing.T) {
	pool := storetest.NewPool(t)
	ctx := context.Background()
	checker := integrity.NewChecker(pool, zap.NewNop())
	repairer := integrity.NewRepairer(pool, zap.NewNop())
	opts := integrity.Options{WindowDays: 30, Timeout: 30 * time.Second}

	order := func(id string, ageDays int, total any) {
		storetest.Exec(t, pool,
			`INSERT INTO orders (amazon_order_id, purchase_date, order_total_amount)
			 VALUES ($1, now() - make_interval(days => $2::int), $3)`,
			id, ageDays, total)
	}
	line := func(orderID, asin string, qty int, itemPrice, priceAmount any) {
		storetest.Exec(t, pool,
			`INSERT INTO order_items (amazon_order_id, asin, quantity_ordered, item_price, price_amount) VALUES ($1, $2, $3, $4, $5)`,
			orderID, asin, qty, itemPrice, priceAmount)
	}
	priceOf := func(orderID, asin string) (decimal.Decimal, string) {
		var amount decimal.Decimal
		var source *string
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT price_amount, price_source FROM order_items WHERE amazon_order_id = $1 AND asin = $2`,
			orderID, asin).Scan(&amount, &source))
		if source == nil {
			return amount, ""
		}
		return amount, *source
	}

	t.Run("convergence", func(t *testing.T) {
		baseline, err := checker.Run(ctx, opts)
		require.NoError(t, err)
		assert.Len(t, baseline.Counts, len(integrity.Categories))

		order("ORD-CONV-1", 1, nil)
		line("ORD-CONV-1", "B0CONV0001", 3, "10.50", nil)

		after, err := checker.Run(ctx, opts)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, after.Counts[integrity.ZeroRevenueRecent], baseline.Counts[integrity.ZeroRevenueRecent]+1)
		require.NotEmpty(t, after.Samples[integrity.ZeroRevenueRecent])
		assert.Equal(t, "B0CONV0001", after.Samples[integrity.ZeroRevenueRecent][0].ASIN)
		assert.Equal(t, int64(3), after.Samples[integrity.ZeroRevenueRecent][0].Units)

		res, err := repairer.RepairRecent(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Updated[integrity.TierItemPrice])
		assert.Equal(t, int64(1), res.Updated[integrity.TierRecomputedTotals])

		repaired, err := checker.Run(ctx, opts)
		require.NoError(t, err)
		assert.LessOrEqual(t, repaired.Counts[integrity.ZeroRevenueRecent], baseline.Counts[integrity.ZeroRevenueRecent])
		assert.LessOrEqual(t, repaired.Counts[integrity.OrdersZeroTotalRecent], baseline.Counts[integrity.OrdersZeroTotalRecent])

		amount, source := priceOf("ORD-CONV-1", "B0CONV0001")
		assert.True(t, amount.Equal(decimal.RequireFromString("31.50")))
		assert.Equal(t, "item_price", source)
	})

	t.Run("tiers apply in order", func(t *testing.T) {
		storetest.Exec(t, pool, `INSERT INTO products (asin, title, price) VALUES ('B0TIER0002', 'Priced', 4.00)`)

		order("ORD-TIER-2", 2, nil)
		line("ORD-TIER-2", "B0TIER0002", 2, nil, 0)

		order("ORD-TIER-3", 2, "90.00")
		line("ORD-TIER-3", "B0TIER0003", 1, nil, nil)
		line("ORD-TIER-3", "B0TIER0004", 2, nil, nil)

		order("ORD-TIER-4", 2, nil)
		line("ORD-TIER-4", "B0TIER0005", 1, nil, nil)

		res, err := repairer.RepairRecent(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Updated[integrity.TierItemPrice])
		assert.Equal(t, int64(1), res.Updated[integrity.TierProductPrice])
		assert.Equal(t, int64(2), res.Updated[integrity.TierOrderTotal])
		assert.Equal(t, int64(1), res.Updated[integrity.TierZeroFallback])
		assert.Equal(t, int64(1), res.Updated[integrity.TierRecomputedTotals], "only the product-priced order gains a total")

		amount, source := priceOf("ORD-TIER-2", "B0TIER0002")
		assert.True(t, amount.Equal(decimal.RequireFromString("8.00")))
		assert.Equal(t, "product_price", source)

		amount, _ = priceOf("ORD-TIER-3", "B0TIER0003")
		assert.True(t, amount.Equal(decimal.RequireFromString("30.00")))
		amount, source = priceOf("ORD-TIER-3", "B0TIER0004")
		assert.True(t, amount.Equal(decimal.RequireFromString("60.00")))
		assert.Equal(t, "order_total", source)

		amount, source = priceOf("ORD-TIER-4", "B0TIER0005")
		assert.True(t, amount.IsZero())
		assert.Equal(t, "none", source)
	})

	t.Run("repair is idempotent", func(t *testing.T) {
		res, err := repairer.RepairRecent(ctx, 30)
		require.NoError(t, err)
		assert.Zero(t, res.Total)
	})

	t.Run("lines outside the window are untouched", func(t *testing.T) {
		order("ORD-OLD-1", 60, nil)
		line("ORD-OLD-1", "B0OLD00001", 2, "5.00", nil)

		res, err := repairer.RepairRecent(ctx, 30)
		require.NoError(t, err)
		assert.Zero(t, res.Total)

		var amount *decimal.Decimal
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT price_amount FROM order_items WHERE amazon_order_id = 'ORD-OLD-1'`).Scan(&amount))
		assert.Nil(t, amount)
	})

	t.Run("product findings and samples", func(t *testing.T) {
		storetest.Exec(t, pool, `INSERT INTO products (asin, title) VALUES ('B0NOIMG001', 'No image')`)

		rep, err := checker.Run(ctx, integrity.Options{WindowDays: 30, MaxRecords: 2, Timeout: 30 * time.Second})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rep.Counts[integrity.ProductsMissingImages], int64(1))
		assert.GreaterOrEqual(t, rep.Counts[integrity.ProductsMissingStock], int64(1))
		assert.GreaterOrEqual(t, rep.Counts[integrity.ProductsMissingCostData], int64(1))
		assert.LessOrEqual(t, len(rep.Samples[integrity.ProductsMissingImages]), 2)

		var total int64
		for _, n := range rep.Counts {
			total += n
		}
		assert.Equal(t, total, rep.FindingsCount)
	})

	t.Run("cost inputs clear the missing cost finding", func(t *testing.T) {
		before, err := checker.Run(ctx, opts)
		require.NoError(t, err)

		storetest.Exec(t, pool, `INSERT INTO product_costs (asin, unit_cost) VALUES ('B0CONV0001', 3.20)`)

		after, err := checker.Run(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, before.Counts[integrity.ProductsMissingCostData]-1, after.Counts[integrity.ProductsMissingCostData])
	})

	t.Run("sampled check runs", func(t *testing.T) {
		rep, err := checker.Run(ctx, integrity.Options{WindowDays: 30, SamplingEnabled: true, SamplingPct: 100, Timeout: 30 * time.Second})
		require.NoError(t, err)
		assert.True(t, rep.Sampled)
		assert.Equal(t, 100.0, rep.SamplingPct)
	})
}
