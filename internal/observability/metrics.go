package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "remote_calls_total", Help: "Calls to the ride backend by operation and outcome"},
		[]string{"op", "outcome"},
	)
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "ride_client", Name: "remote_call_duration_seconds", Help: "Ride backend call latency", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)

	// DegradedLookups counts enrichment steps replaced by a placeholder (kind=driver|geocode|passenger).
	DegradedLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "degraded_lookups_total", Help: "Enrichment lookups that fell back to a placeholder"},
		[]string{"kind"},
	)
	HistoryFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_client", Name: "history_fetch_duration_seconds", Help: "History and recent-rides fetch and reconcile latency"})
	HistoryFetchErrors   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "history_fetch_errors_total", Help: "Raw history fetches that failed"})
	StaleResultsDropped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "stale_results_dropped_total", Help: "Fetch results discarded because the view changed"})

	GeocodeCacheHits = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "geocode_cache_hits_total", Help: "Reverse geocode lookups served from cache"})

	SessionExpirations = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "session_expirations_total", Help: "Forced logouts caused by session expiry"})
	Transitions        = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "transitions_total", Help: "Navigation transitions by kind"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_client",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
