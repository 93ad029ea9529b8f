// Package metrics exposes Prometheus collectors for the preview service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	previewResolutionsTotal  *prometheus.CounterVec
	previewCacheHitsTotal    prometheus.Counter
	previewCacheMissesTotal  prometheus.Counter
	coalescedWaitsTotal      *prometheus.CounterVec
	fetchDurationSeconds     *prometheus.HistogramVec
	redirectResolutionsTotal *prometheus.CounterVec
	persistFailuresTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		previewResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewd_resolutions_total",
				Help: "Total number of preview resolutions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		previewCacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_cache_hits_total",
				Help: "Total number of preview cache hits.",
			},
		)

		previewCacheMissesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_cache_misses_total",
				Help: "Total number of preview cache misses.",
			},
		)

		coalescedWaitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewd_coalesced_waits_total",
				Help: "Total number of callers that joined an in-flight fetch, labeled by kind.",
			},
			[]string{"kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "previewd_fetch_duration_seconds",
				Help:    "Histogram of network fetch latencies, labeled by path.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 7.5},
			},
			[]string{"path"},
		)

		redirectResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewd_redirect_resolutions_total",
				Help: "Total number of redirect resolutions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		persistFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_persist_failures_total",
				Help: "Total number of failed cache persistence writes.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolution increments the preview resolution counter for an outcome.
func ObserveResolution(outcome string) {
	if previewResolutionsTotal == nil {
		return
	}
	previewResolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheHit increments the preview cache hit counter.
func ObserveCacheHit() {
	if previewCacheHitsTotal == nil {
		return
	}
	previewCacheHitsTotal.Inc()
}

// ObserveCacheMiss increments the preview cache miss counter.
func ObserveCacheMiss() {
	if previewCacheMissesTotal == nil {
		return
	}
	previewCacheMissesTotal.Inc()
}

// ObserveCoalescedWait records a caller joining an already in-flight fetch.
func ObserveCoalescedWait(kind string) {
	if coalescedWaitsTotal == nil {
		return
	}
	coalescedWaitsTotal.WithLabelValues(kind).Inc()
}

// ObserveFetchDuration records the duration of a network fetch.
func ObserveFetchDuration(path string, duration time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.WithLabelValues(path).Observe(duration.Seconds())
}

// ObserveRedirectResolution increments the redirect resolution counter.
func ObserveRedirectResolution(outcome string) {
	if redirectResolutionsTotal == nil {
		return
	}
	redirectResolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObservePersistFailure increments the persistence failure counter.
func ObservePersistFailure() {
	if persistFailuresTotal == nil {
		return
	}
	persistFailuresTotal.Inc()
}
