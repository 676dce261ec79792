package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Homer backend calls
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homer_callflow_backend_requests_total",
			Help: "Total number of requests sent to the Homer API",
		},
		[]string{"operation", "result"}, // auth/search/transaction, ok/error
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homer_callflow_backend_request_duration_seconds",
			Help:    "Homer API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Reconstruction
	CallsReconstructedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homer_callflow_calls_reconstructed_total",
			Help: "Calls summarized or rebuilt from capture records",
		},
		[]string{"view"}, // list/single/detail
	)

	RecordsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homer_callflow_records_processed_total",
			Help: "Capture records fed into call reconstruction",
		},
	)

	// HTTP API
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homer_callflow_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homer_callflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Watch loop
	StatusChangesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homer_callflow_status_changes_published_total",
			Help: "Call status transitions published to MQTT",
		},
		[]string{"status"},
	)

	WatchedCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homer_callflow_watched_calls",
			Help: "Calls whose last published status is being remembered",
		},
	)
)
