package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsTotal counts dispatched actions by action name and result code.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royale_actions_total",
			Help: "Total number of dispatched battle royale actions",
		},
		[]string{"action", "code"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "royale_action_duration_seconds",
			Help:    "Battle royale action duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// JoinsTotal counts join attempts that reached the ledger, by result (joined, compensated).
	JoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royale_joins_total",
			Help: "Total number of paid join attempts",
		},
		[]string{"result"},
	)

	EliminationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "royale_eliminations_total",
			Help: "Total number of eliminated participants",
		},
	)

	// PayoutsTotal counts ledger credits by kind (prize, refund) and result (ok, failed).
	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royale_payouts_total",
			Help: "Total number of prize and refund credits",
		},
		[]string{"kind", "result"},
	)

	// SweepSessionsTotal counts sessions touched by the auto start sweep, by outcome.
	SweepSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royale_sweep_sessions_total",
			Help: "Total number of sessions started, cancelled or failed by the sweep",
		},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royale_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "path"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "royale_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "path"},
	)
)

// ObserveAction records one dispatched action.
func ObserveAction(action, code string, start time.Time) {
	ActionsTotal.WithLabelValues(action, code).Inc()
	ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// HTTPMetrics collects HTTP request metrics. Paths are the matched route, not the raw URL.
func HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(status, c.Request.Method, path).Inc()
		HTTPRequestDuration.WithLabelValues(status, c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
