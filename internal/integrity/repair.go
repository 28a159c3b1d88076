package integrity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
)

// Repair tiers, applied in this order.
const (
	TierItemPrice        = "item_price_qty"
	TierProductPrice     = "products_price_qty"
	TierOrderTotal       = "distributed_order_total"
	TierZeroFallback     = "zero_fallback"
	TierRecomputedTotals = "recomputed_order_totals"
)

// RepairResult holds the rows corrected per tier.
type RepairResult struct {
	WindowDays int              `json:"window_days"`
	Updated    map[string]int64 `json:"updated"`
	Total      int64            `json:"total"`
	Duration   time.Duration    `json:"duration"`
}

// A line qualifies for repair while it has units, no revenue, and has not been marked
// as unpriceable by the zero fallback.
const qualifies = `
	  AND o.purchase_date >= now() - make_interval(days => $1::int)
	  AND oi.quantity_ordered > 0
	  AND (oi.price_amount IS NULL OR oi.price_amount = 0)
	  AND oi.price_source IS DISTINCT FROM 'none'`

type tier struct {
	name  string
	query string
}

var tiers = []tier{
	{TierItemPrice, `
		UPDATE order_items oi
		SET price_amount = ROUND(oi.item_price * oi.quantity_ordered, 2),
		    price_source = 'item_price'
		FROM orders o
		WHERE oi.amazon_order_id = o.amazon_order_id
		  AND oi.item_price > 0` + qualifies},

	{TierProductPrice, `
		UPDATE order_items oi
		SET price_amount = ROUND(p.price * oi.quantity_ordered, 2),
		    price_source = 'product_price'
		FROM orders o, products p
		WHERE oi.amazon_order_id = o.amazon_order_id
		  AND p.asin = oi.asin
		  AND p.price > 0` + qualifies},

	{TierOrderTotal, `
		WITH order_qty AS (
			SELECT oi.amazon_order_id, SUM(oi.quantity_ordered) AS total_qty
			FROM order_items oi
			JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
			WHERE o.purchase_date >= now() - make_interval(days => $1::int)
			  AND oi.quantity_ordered > 0
			GROUP BY oi.amazon_order_id
		)
		UPDATE order_items oi
		SET price_amount = ROUND(o.order_total_amount / oq.total_qty * oi.quantity_ordered, 2),
		    price_source = 'order_total'
		FROM orders o
		JOIN order_qty oq ON oq.amazon_order_id = o.amazon_order_id
		WHERE oi.amazon_order_id = o.amazon_order_id
		  AND oq.total_qty > 0
		  AND o.order_total_amount > 0` + qualifies},

	{TierZeroFallback, `
		UPDATE order_items oi
		SET price_amount = 0,
		    price_source = 'none'
		FROM orders o
		WHERE oi.amazon_order_id = o.amazon_order_id
		  AND COALESCE(oi.item_price, 0) <= 0
		  AND COALESCE(o.order_total_amount, 0) <= 0
		  AND NOT EXISTS (SELECT 1 FROM products p WHERE p.asin = oi.asin AND p.price > 0)` + qualifies},

	{TierRecomputedTotals, `
		WITH sums AS (
			SELECT oi.amazon_order_id, SUM(COALESCE(oi.price_amount, 0)) AS sum_items
			FROM order_items oi
			JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
			WHERE o.purchase_date >= now() - make_interval(days => $1::int)
			GROUP BY oi.amazon_order_id
		)
		UPDATE orders o
		SET order_total_amount = s.sum_items
		FROM sums s
		WHERE o.amazon_order_id = s.amazon_order_id
		  AND s.sum_items > 0
		  AND (o.order_total_amount IS NULL OR o.order_total_amount = 0)
		  AND o.purchase_date >= now() - make_interval(days => $1::int)`},
}

// Repairer rewrites revenue-bearing fields of recent order lines.
type Repairer struct {
	db     DB
	logger *zap.Logger
}

// NewRepairer creates a Repairer.
func NewRepairer(db DB, logger *zap.Logger) *Repairer {
	return &Repairer{db: db, logger: logger.Named("integrity")}
}

// RepairRecent applies every tier to lines in the last windowDays. Each tier is a single
// auto-committed UPDATE that touches only qualifying rows; re-running on corrected data
// updates nothing.
func (r *Repairer) RepairRecent(ctx context.Context, windowDays int) (RepairResult, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	start := time.Now()
	res := RepairResult{WindowDays: windowDays, Updated: make(map[string]int64, len(tiers))}

	for _, t := range tiers {
		tag, err := r.db.Exec(ctx, t.query, windowDays)
		if err != nil {
			metrics.IncError("integrity", "repair")
			return res, fmt.Errorf("integrity: repair %s: %w", t.name, err)
		}
		n := tag.RowsAffected()
		res.Updated[t.name] = n
		res.Total += n
		metrics.AddRepaired(t.name, n)
	}
	res.Duration = time.Since(start)
	metrics.SetLastRun("integrity_repair", time.Now())

	r.logger.Info("integrity.repair_completed",
		zap.Int("window_days", windowDays),
		zap.Int64("total", res.Total),
		zap.Any("updated", res.Updated),
		zap.Duration("duration", res.Duration))
	return res, nil
}
