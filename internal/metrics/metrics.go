// Package metrics holds the Prometheus collectors (C10) shared across the
// manager's components: poll outcomes, HTTP requests, webhook deliveries,
// discovery sweeps, and the differ's fetch path.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vm_build_info",
			Help: "Build information of the device version manager",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vm_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vm_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vm_device_polls_total",
			Help: "Total number of device polls by resulting state",
		},
		[]string{"state"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vm_device_poll_duration_seconds",
			Help:    "Duration of a single device poll",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	SnapshotWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vm_snapshot_write_duration_seconds",
			Help:    "Duration of the reconcile transaction (snapshot + differ observations)",
			Buckets: prometheus.DefBuckets,
		},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vm_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"}, // "success" or "failure"
	)

	DiscoveryTargetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vm_discovery_targets_total",
			Help: "Total number of discovery targets probed by outcome",
		},
		[]string{"outcome"}, // "responded", "no_response", "ping_filtered"
	)

	DifferFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vm_differ_fetches_total",
			Help: "Total number of controlled-file content fetches by source and outcome",
		},
		[]string{"source", "outcome"}, // source: "inline"|"fetch"; outcome: "ok"|"error"
	)
)

// Middleware records per-request HTTP metrics. Grounded on the reference
// codebase's own chi metrics middleware.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordPoll records the outcome of one reconcile pass.
func RecordPoll(state string, duration time.Duration) {
	PollsTotal.WithLabelValues(state).Inc()
	PollDuration.Observe(duration.Seconds())
}

// RecordWebhookDelivery records the outcome of one webhook POST attempt.
func RecordWebhookDelivery(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordDiscoveryTarget records the outcome of one discovery probe.
func RecordDiscoveryTarget(outcome string) {
	DiscoveryTargetsTotal.WithLabelValues(outcome).Inc()
}

// RecordDifferFetch records the outcome of one ensure-observation content fetch.
func RecordDifferFetch(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DifferFetchesTotal.WithLabelValues(source, outcome).Inc()
}
