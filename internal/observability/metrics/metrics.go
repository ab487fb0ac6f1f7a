// Package metrics provides Prometheus instrumentation for irecdesk.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled bool

	submissionsTotal *prometheus.CounterVec
	outcomesTotal    *prometheus.CounterVec
	confirmLatency   *prometheus.HistogramVec
	refreshTotal     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool) {
	enabled = enabledFlag
	if !enabled {
		return
	}

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irecdesk_submissions_total",
			Help: "Transactions submitted, by action",
		},
		[]string{"action"},
	)
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irecdesk_outcomes_total",
			Help: "Terminal orchestration outcomes, by action and status",
		},
		[]string{"action", "status"},
	)
	confirmLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irecdesk_confirmation_seconds",
			Help:    "Time from submission to confirmed receipt",
			Buckets: []float64{1, 3, 5, 10, 20, 30, 60, 120},
		},
		[]string{"action"},
	)
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irecdesk_snapshot_refresh_total",
			Help: "Snapshot refreshes from chain, by result",
		},
		[]string{"result"},
	)
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irecdesk_http_requests_total",
			Help: "HTTP requests, by method, path and status",
		},
		[]string{"method", "path", "status"},
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

func RecordSubmission(action string) {
	if enabled {
		submissionsTotal.WithLabelValues(action).Inc()
	}
}

func RecordOutcome(action, status string) {
	if enabled {
		outcomesTotal.WithLabelValues(action, status).Inc()
	}
}

func ObserveConfirmation(action string, d time.Duration) {
	if enabled {
		confirmLatency.WithLabelValues(action).Observe(d.Seconds())
	}
}

func RecordRefresh(result string) {
	if enabled {
		refreshTotal.WithLabelValues(result).Inc()
	}
}

func RecordHTTPRequest(method, path, status string) {
	if enabled {
		httpRequests.WithLabelValues(method, path, status).Inc()
	}
}
