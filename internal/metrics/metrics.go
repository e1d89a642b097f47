// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	syncRunsTotal             *prometheus.CounterVec
	syncItemsTotal            *prometheus.CounterVec
	syncCollectionItems       prometheus.Gauge
	syncLastSuccessTimestamp  prometheus.Gauge
	syncRunDurationSeconds    prometheus.Histogram
	apiRequestsTotal          *prometheus.CounterVec
	apiRequestDurationSeconds *prometheus.HistogramVec
	apiRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgmsync_runs_total",
				Help: "Total number of sync runs, labeled by final status.",
			},
			[]string{"status"},
		)

		syncItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgmsync_items_total",
				Help: "Total number of table mutations, labeled by action and result.",
			},
			[]string{"action", "result"},
		)

		syncCollectionItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bgmsync_collection_items",
				Help: "Number of items in the most recently fetched collection.",
			},
		)

		syncLastSuccessTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bgmsync_last_success_timestamp_seconds",
				Help: "Unix time of the last successful sync run.",
			},
		)

		syncRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bgmsync_run_duration_seconds",
				Help:    "Wall time per sync run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgmsync_api_requests_total",
				Help: "Total outbound API requests, labeled by api, method and code.",
			},
			[]string{"api", "method", "code"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bgmsync_api_request_duration_seconds",
				Help:    "Histogram of outbound API latencies, labeled by api and method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"api", "method"},
		)

		apiRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bgmsync_api_rate_limit_delays_seconds",
				Help:    "Histogram of client-side pacing waits.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"api"},
		)
	})
}

// InstrumentTransport wraps next so every request is counted and timed under api.
func InstrumentTransport(api string, next http.RoundTripper) http.RoundTripper {
	Init()
	if next == nil {
		next = http.DefaultTransport
	}
	labels := prometheus.Labels{"api": api}
	return promhttp.InstrumentRoundTripperCounter(
		apiRequestsTotal.MustCurryWith(labels),
		promhttp.InstrumentRoundTripperDuration(
			apiRequestDurationSeconds.MustCurryWith(labels),
			next,
		),
	)
}

// ObserveRun records the final status and duration of a sync run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	syncRunsTotal.WithLabelValues(status).Inc()
	syncRunDurationSeconds.Observe(duration.Seconds())
	if status == "succeeded" {
		syncLastSuccessTimestamp.SetToCurrentTime()
	}
}

// ObserveItem increments the mutation counter for action and result.
func ObserveItem(action, result string) {
	Init()
	syncItemsTotal.WithLabelValues(action, result).Inc()
}

// AddItems adds n to the mutation counter for action and result.
func AddItems(action, result string, n int) {
	Init()
	if n <= 0 {
		return
	}
	syncItemsTotal.WithLabelValues(action, result).Add(float64(n))
}

// SetCollectionSize records how many items the last fetch returned.
func SetCollectionSize(n int) {
	Init()
	syncCollectionItems.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(api string, duration time.Duration) {
	Init()
	apiRateLimitDelaysSeconds.WithLabelValues(api).Observe(duration.Seconds())
}

// Push sends every registered collector to a Prometheus Pushgateway.
func Push(ctx context.Context, gatewayURL, job string) error {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil
	}
	if job == "" {
		job = "bgm_notion_sync"
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
