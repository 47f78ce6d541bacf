// Package metrics собирает метрики эскроу-движка для Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector nil-safe: методы на nil ничего не делают.
type Collector struct {
	webhooksTotal       *prometheus.CounterVec
	ledgerEntriesTotal  *prometheus.CounterVec
	orderTransitions    *prometheus.CounterVec
	expiredPending      prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New регистрирует метрики в reg. В тестах передаётся prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		webhooksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_webhooks_total",
				Help: "Webhook deliveries by provider and settlement outcome",
			},
			[]string{"provider", "outcome"},
		),
		ledgerEntriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_ledger_entries_total",
				Help: "Ledger writes by transaction type and status",
			},
			[]string{"type", "status"},
		),
		orderTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_order_transitions_total",
				Help: "Order status transitions by target status",
			},
			[]string{"to"},
		),
		expiredPending: f.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_pending_expired_total",
				Help: "Pending ledger entries moved to failed by the reaper",
			},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

func (c *Collector) WebhookProcessed(provider, outcome string) {
	if c == nil {
		return
	}
	c.webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) LedgerEntry(txType, status string) {
	if c == nil {
		return
	}
	c.ledgerEntriesTotal.WithLabelValues(txType, status).Inc()
}

func (c *Collector) OrderTransition(to string) {
	if c == nil {
		return
	}
	c.orderTransitions.WithLabelValues(to).Inc()
}

func (c *Collector) PendingExpired(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.expiredPending.Add(float64(n))
}

func (c *Collector) ObserveHTTP(method, endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
