package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound marketplace API calls by classified outcome.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_api_requests_total",
			Help: "Total marketplace API calls by marketplace, operation and outcome.",
		},
		[]string{"marketplace", "operation", "outcome"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_api_request_duration_seconds",
			Help:    "Duration of marketplace API calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms → ~40s
		},
		[]string{"marketplace", "operation"},
	)

	// Time spent blocked in the rate governor.
	ThrottleWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_governor_wait_seconds",
			Help:    "Time callers spent waiting for the rate governor.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"governor"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refresh_total",
			Help: "Access token exchanges by marketplace and result.",
		},
		[]string{"marketplace", "result"}, // ok | fatal | error
	)

	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_total",
			Help: "Identifiers handled by sync domain and result.",
		},
		[]string{"domain", "result"}, // updated | unchanged | skipped | failed | retried
	)

	SyncProcessed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_processed_items",
			Help: "Processed identifiers in the current run.",
		},
		[]string{"domain"},
	)

	SyncTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_total_items",
			Help: "Identifiers in the current run's work list.",
		},
		[]string{"domain"},
	)

	IntegrityFindings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "integrity_findings",
			Help: "Anomaly counts from the latest integrity check by category.",
		},
		[]string{"category"},
	)

	RepairedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_repaired_rows_total",
			Help: "Rows corrected by the repairer, by repair tier.",
		},
		[]string{"tier"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events published by sink and result.",
		},
		[]string{"sink", "event_type", "result"},
	)

	EventPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_publish_latency_seconds",
			Help:    "Time taken to publish domain events.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_sync_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Unix seconds of the last successful run of a component.
	LastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketplace_sync_last_run_timestamp",
			Help: "Timestamp (unix seconds) of the last successful sync or integrity run.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time since start on a histogram or summary vector.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

func IncUpstream(marketplace, operation, outcome string) {
	UpstreamRequestsTotal.WithLabelValues(marketplace, operation, outcome).Inc()
}

func IncTokenRefresh(marketplace, result string) {
	TokenRefreshTotal.WithLabelValues(marketplace, result).Inc()
}

func IncSyncItem(domain, result string) {
	SyncItemsTotal.WithLabelValues(domain, result).Inc()
}

// SetSyncProgress mirrors a run's counters into gauges.
func SetSyncProgress(domain string, processed, total int) {
	SyncProcessed.WithLabelValues(domain).Set(float64(processed))
	SyncTotal.WithLabelValues(domain).Set(float64(total))
}

func SetIntegrityFinding(category string, count int64) {
	IntegrityFindings.WithLabelValues(category).Set(float64(count))
}

func AddRepaired(tier string, n int64) {
	RepairedRowsTotal.WithLabelValues(tier).Add(float64(n))
}

func IncEvent(sink, eventType, result string) {
	EventsPublished.WithLabelValues(sink, eventType, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastRun(component string, t time.Time) {
	LastRunTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
