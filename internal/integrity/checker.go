// Package integrity counts data anomalies over a rolling window and repairs the
// revenue-bearing fields of recent order lines.
package integrity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
)

// Finding categories.
const (
	ProductsMissingImages              = "productsMissingImages"
	ProductsMissingBuyBox              = "productsMissingBuyBox"
	ProductsMissingStock               = "productsMissingStock"
	OrderItemsMissingPriceAmountRecent = "orderItemsMissingPriceAmountRecent"
	ZeroRevenueRecent                  = "zeroRevenueRecent"
	OrdersZeroTotalRecent              = "ordersZeroTotalRecent"
	ProductsMissingCostData            = "productsMissingCostData"
)

// Categories lists every finding in report order.
var Categories = []string{
	ProductsMissingImages,
	ProductsMissingBuyBox,
	ProductsMissingStock,
	OrderItemsMissingPriceAmountRecent,
	ZeroRevenueRecent,
	OrdersZeroTotalRecent,
	ProductsMissingCostData,
}

const maxSamples = 10

// DB is the subset of pgxpool.Pool the checker and repairer use.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Options tunes one check. Zero values fall back to the defaults below.
type Options struct {
	WindowDays      int           `json:"window_days"`
	MaxRecords      int           `json:"max_records"`
	Timeout         time.Duration `json:"timeout"`
	SamplingEnabled bool          `json:"sampling_enabled"`
	SamplingPct     float64       `json:"sampling_pct"`
}

func (o Options) withDefaults() Options {
	if o.WindowDays <= 0 {
		o.WindowDays = 90
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = 10000
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.SamplingPct <= 0 || o.SamplingPct > 100 {
		o.SamplingPct = 10
	}
	return o
}

func (o Options) sampleSize() int {
	return min(maxSamples, o.MaxRecords)
}

// orderItemsSource is the FROM target for order_items, sampled when enabled.
func (o Options) orderItemsSource() string {
	if !o.SamplingEnabled {
		return "order_items"
	}
	return "order_items TABLESAMPLE BERNOULLI (" + strconv.FormatFloat(o.SamplingPct, 'f', -1, 64) + ")"
}

// Sample is one offending record kept for operator inspection.
type Sample struct {
	ASIN    string           `json:"asin"`
	Title   string           `json:"title,omitempty"`
	Units   int64            `json:"units,omitempty"`
	Revenue *decimal.Decimal `json:"revenue,omitempty"`
}

// Report is the result of one check. Counts carries every category, including zeros.
type Report struct {
	FindingsCount int64               `json:"findings_count"`
	Counts        map[string]int64    `json:"counts"`
	Samples       map[string][]Sample `json:"samples"`
	WindowDays    int                 `json:"window_days"`
	Sampled       bool                `json:"sampled"`
	SamplingPct   float64             `json:"sampling_pct,omitempty"`
	CheckedAt     time.Time           `json:"checked_at"`
	Duration      time.Duration       `json:"duration"`
}

// Checker runs the read-only anomaly aggregations.
type Checker struct {
	db     DB
	logger *zap.Logger
}

// NewChecker creates a Checker.
func NewChecker(db DB, logger *zap.Logger) *Checker {
	return &Checker{db: db, logger: logger.Named("integrity")}
}

// Run executes every aggregation inside one read-only transaction bounded by
// opts.Timeout, both as a context deadline and as the statement timeout.
func (c *Checker) Run(ctx context.Context, opts Options) (Report, error) {
	opts = opts.withDefaults()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		metrics.IncError("integrity", "begin")
		return Report{}, fmt.Errorf("integrity: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = "+strconv.FormatInt(opts.Timeout.Milliseconds(), 10)); err != nil {
		return Report{}, fmt.Errorf("integrity: statement timeout: %w", err)
	}

	rep := Report{
		Counts:     make(map[string]int64, len(Categories)),
		Samples:    map[string][]Sample{},
		WindowDays: opts.WindowDays,
		Sampled:    opts.SamplingEnabled,
		CheckedAt:  start.UTC(),
	}
	if opts.SamplingEnabled {
		rep.SamplingPct = opts.SamplingPct
	}

	for _, category := range Categories {
		n, err := c.count(ctx, tx, category, opts)
		if err != nil {
			metrics.IncError("integrity", "query")
			return Report{}, fmt.Errorf("integrity: %s: %w", category, err)
		}
		rep.Counts[category] = n
		rep.FindingsCount += n
	}

	if rep.Counts[ProductsMissingImages] > 0 {
		if rep.Samples[ProductsMissingImages], err = c.missingImageSamples(ctx, tx, opts); err != nil {
			return Report{}, fmt.Errorf("integrity: samples: %w", err)
		}
	}
	if rep.Counts[ZeroRevenueRecent] > 0 {
		if rep.Samples[ZeroRevenueRecent], err = c.zeroRevenueSamples(ctx, tx, opts); err != nil {
			return Report{}, fmt.Errorf("integrity: samples: %w", err)
		}
	}

	rep.Duration = time.Since(start)
	for category, n := range rep.Counts {
		metrics.SetIntegrityFinding(category, n)
	}
	metrics.SetLastRun("integrity_check", rep.CheckedAt)

	c.logger.Info("integrity.check_completed",
		zap.Int("window_days", opts.WindowDays),
		zap.Int64("findings", rep.FindingsCount),
		zap.Bool("sampled", opts.SamplingEnabled),
		zap.Duration("duration", rep.Duration))
	return rep, nil
}

func (c *Checker) count(ctx context.Context, tx pgx.Tx, category string, opts Options) (int64, error) {
	var n int64
	query, windowed := countQuery(category, opts.orderItemsSource())
	if query == "" {
		return 0, fmt.Errorf("unknown category %q", category)
	}
	var args []any
	if windowed {
		args = append(args, opts.WindowDays)
	}
	if err := tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// countQuery returns the aggregation for category and whether it takes the window
// (in days) as $1.
func countQuery(category, orderItems string) (string, bool) {
	const recent = `o.purchase_date >= now() - make_interval(days => $1::int)`
	switch category {
	case ProductsMissingImages:
		return `SELECT count(*) FROM products WHERE image_url IS NULL OR image_url = ''`, false
	case ProductsMissingBuyBox:
		return `SELECT count(*) FROM products WHERE buy_box_seller IS NULL OR buy_box_seller = ''`, false
	case ProductsMissingStock:
		return `SELECT count(*) FROM products WHERE inventory_quantity IS NULL`, false
	case OrderItemsMissingPriceAmountRecent:
		return `
			SELECT count(*)
			FROM ` + orderItems + ` oi
			JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
			WHERE ` + recent + `
			  AND oi.quantity_ordered > 0
			  AND (oi.price_amount IS NULL OR oi.price_amount = 0)
			  AND oi.price_source IS DISTINCT FROM 'none'`, true
	case ZeroRevenueRecent:
		return `
			SELECT count(*) FROM (
				SELECT oi.asin
				FROM ` + orderItems + ` oi
				JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
				WHERE ` + recent + ` AND oi.asin IS NOT NULL
				GROUP BY oi.asin
				HAVING SUM(oi.quantity_ordered) > 0 AND SUM(COALESCE(oi.price_amount, 0)) = 0
			) z`, true
	case OrdersZeroTotalRecent:
		return `
			SELECT count(*) FROM orders o
			WHERE ` + recent + `
			  AND (o.order_total_amount IS NULL OR o.order_total_amount = 0)`, true
	case ProductsMissingCostData:
		return `
			SELECT count(DISTINCT oi.asin)
			FROM ` + orderItems + ` oi
			JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
			WHERE ` + recent + ` AND oi.asin IS NOT NULL AND oi.quantity_ordered > 0
			  AND NOT EXISTS (
				SELECT 1 FROM product_costs pc
				WHERE pc.asin = oi.asin
				  AND (pc.manual OR pc.unit_cost IS NOT NULL OR pc.storage_cost IS NOT NULL
				       OR pc.freight_cost IS NOT NULL OR pc.variable_pct IS NOT NULL OR pc.tax_pct IS NOT NULL)
			  )`, true
	}
	return "", false
}

func (c *Checker) missingImageSamples(ctx context.Context, tx pgx.Tx, opts Options) ([]Sample, error) {
	rows, err := tx.Query(ctx, `
		SELECT asin, COALESCE(title, '')
		FROM products
		WHERE image_url IS NULL OR image_url = ''
		ORDER BY updated_at DESC, asin
		LIMIT $1`, opts.sampleSize())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sample, error) {
		var s Sample
		err := row.Scan(&s.ASIN, &s.Title)
		return s, err
	})
}

func (c *Checker) zeroRevenueSamples(ctx context.Context, tx pgx.Tx, opts Options) ([]Sample, error) {
	rows, err := tx.Query(ctx, `
		SELECT oi.asin, COALESCE(max(oi.title), ''), SUM(oi.quantity_ordered), SUM(COALESCE(oi.price_amount, 0))
		FROM `+opts.orderItemsSource()+` oi
		JOIN orders o ON o.amazon_order_id = oi.amazon_order_id
		WHERE o.purchase_date >= now() - make_interval(days => $1::int) AND oi.asin IS NOT NULL
		GROUP BY oi.asin
		HAVING SUM(oi.quantity_ordered) > 0 AND SUM(COALESCE(oi.price_amount, 0)) = 0
		ORDER BY SUM(oi.quantity_ordered) DESC, oi.asin
		LIMIT $2`, opts.WindowDays, opts.sampleSize())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sample, error) {
		var s Sample
		var revenue decimal.Decimal
		err := row.Scan(&s.ASIN, &s.Title, &s.Units, &revenue)
		s.Revenue = &revenue
		return s, err
	})
}
