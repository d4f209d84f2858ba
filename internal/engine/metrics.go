package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the consumer.
type Metrics struct {
	// Ingest metrics
	MessagesConsumed *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	IntakeQueueSize  prometheus.Gauge
	IntakeFullWaits  prometheus.Counter

	// Writer metrics
	WriterPoolSize   *prometheus.GaugeVec
	WriterBatchSize  prometheus.Histogram
	WriterRebalances prometheus.Counter
	WriterScaleUps   prometheus.Counter
	WriterScaleDowns prometheus.Counter

	// Database metrics
	DBStatementsTotal  *prometheus.CounterVec
	DBStatementsFailed *prometheus.CounterVec
	DBStatementLatency *prometheus.HistogramVec

	// Cache metrics
	AttrCacheSize       prometheus.Gauge
	AttrCacheSuppressed prometheus.Counter
	SubscriptionsActive prometheus.Gauge

	// Notification metrics
	NotificationsEmitted prometheus.Counter
	NotificationsFailed  prometheus.Counter
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics returns the singleton Metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Total bus messages consumed, by record kind",
		}, []string{"kind"}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consumer_decode_errors_total",
			Help: "Total malformed bus records dropped",
		}),
		IntakeQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "consumer_intake_queue_size",
			Help: "Current depth of the intake queue",
		}),
		IntakeFullWaits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consumer_intake_full_waits_total",
			Help: "Times the dispatcher waited on a full intake queue",
		}),
		WriterPoolSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "writer_pool_size",
			Help: "Writers currently running, by writer type",
		}, []string{"type"}),
		WriterBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "writer_batch_records",
			Help:    "Statements merged into one flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		WriterRebalances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "writer_rebalances_total",
			Help: "Writer rebalance events",
		}),
		WriterScaleUps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "writer_scale_ups_total",
			Help: "Writer scale-up events",
		}),
		WriterScaleDowns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "writer_scale_downs_total",
			Help: "Writer scale-down events",
		}),
		DBStatementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "db_statements_total",
			Help: "Statements executed, by table",
		}, []string{"table"}),
		DBStatementsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "db_statements_failed_total",
			Help: "Statement execution failures, by table",
		}, []string{"table"}),
		DBStatementLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_statement_duration_seconds",
			Help:    "Statement execution latency, by table",
			Buckets: prometheus.DefBuckets,
		}, []string{"table"}),
		AttrCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "attr_cache_size",
			Help: "Entries in the base attribute dedup cache",
		}),
		AttrCacheSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attr_cache_suppressed_total",
			Help: "Base attribute records suppressed as duplicates",
		}),
		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriptions_active",
			Help: "Active notification subscriptions",
		}),
		NotificationsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Notification records produced downstream",
		}),
		NotificationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Notification produce errors (logged and swallowed)",
		}),
	}
}

// ObserveStatement implements db.StatementMetrics.
func (m *Metrics) ObserveStatement(table string, d time.Duration, err error) {
	m.DBStatementsTotal.WithLabelValues(table).Inc()
	m.DBStatementLatency.WithLabelValues(table).Observe(d.Seconds())
	if err != nil {
		m.DBStatementsFailed.WithLabelValues(table).Inc()
	}
}
