// Package metrics holds the Prometheus collectors shared by the build pipeline and HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Builds counts finished builds. Labels: status (succeeded, failed)
	Builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dressapi",
		Subsystem: "index",
		Name:      "builds_total",
		Help:      "Total index builds by outcome",
	}, []string{"status"})

	// BuildDuration measures full build time, enumeration through persistence.
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dressapi",
		Subsystem: "index",
		Name:      "build_duration_seconds",
		Help:      "Index build duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	// IndexedFiles is the size of the currently served master index.
	IndexedFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dressapi",
		Subsystem: "index",
		Name:      "files",
		Help:      "Files in the currently served master index",
	})

	// Authors is the number of credited authors in the served author index.
	Authors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dressapi",
		Subsystem: "index",
		Name:      "authors",
		Help:      "Authors in the currently served author index",
	})

	// SkippedFiles counts files dropped during assembly. Labels: reason (no_history, error)
	SkippedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dressapi",
		Subsystem: "index",
		Name:      "skipped_files_total",
		Help:      "Files excluded from the indices during assembly",
	}, []string{"reason"})

	// RemoteRequests counts commits API responses. Labels: code
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dressapi",
		Subsystem: "github",
		Name:      "requests_total",
		Help:      "Remote API responses by status code",
	}, []string{"code"})

	// RemoteRetries counts backoff waits taken by the retrying transport.
	RemoteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dressapi",
		Subsystem: "github",
		Name:      "retries_total",
		Help:      "Retries performed against the remote API",
	})

	// SyncRequests counts resync triggers. Labels: source (api, schedule, watch, startup), rebuild
	SyncRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dressapi",
		Subsystem: "sync",
		Name:      "requests_total",
		Help:      "Resync triggers by source",
	}, []string{"source", "rebuild"})

	// Served counts images handed out by the random endpoints. Labels: route
	Served = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dressapi",
		Subsystem: "http",
		Name:      "images_served_total",
		Help:      "Random images served by route",
	}, []string{"route"})
)

// ObserveBuild records the outcome and duration of one build.
func ObserveBuild(status string, elapsed time.Duration) {
	Builds.WithLabelValues(status).Inc()
	BuildDuration.Observe(elapsed.Seconds())
}

// ObserveRemote records one remote API response.
func ObserveRemote(code int) {
	RemoteRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
