package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the storefront collectors.
	Registry = prometheus.NewRegistry()

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Gateway calls by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	gatewayRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Gateway attempts beyond the first.",
		},
		[]string{"action"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of gateway calls including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"action"},
	)

	catalogLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "catalog",
			Name:      "lookups_total",
			Help:      "Catalog snapshot lookups by result (hit, refresh, error).",
		},
		[]string{"result"},
	)

	persistTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "persistence",
			Name:      "tasks_total",
			Help:      "Background persistence tasks by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	persistQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storefront",
			Subsystem: "persistence",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the persistence queue.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		gatewayCalls,
		gatewayRetries,
		gatewayDuration,
		catalogLookups,
		persistTasks,
		persistQueueDepth,
		httpRequests,
		httpDuration,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordGatewayCall(action, outcome string, attempts int, d time.Duration) {
	gatewayCalls.WithLabelValues(action, outcome).Inc()
	if attempts > 1 {
		gatewayRetries.WithLabelValues(action).Add(float64(attempts - 1))
	}
	gatewayDuration.WithLabelValues(action).Observe(d.Seconds())
}

func RecordCatalogLookup(result string) {
	catalogLookups.WithLabelValues(result).Inc()
}

func RecordPersistTask(kind, outcome string) {
	persistTasks.WithLabelValues(kind, outcome).Inc()
}

func SetPersistQueueDepth(n int) {
	persistQueueDepth.Set(float64(n))
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
