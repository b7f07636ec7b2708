// Package metrics exposes Prometheus collectors for the notice pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal        *prometheus.CounterVec
	fetchRetriesTotal   *prometheus.CounterVec
	proxyFallbacksTotal *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	stageItemsTotal     *prometheus.CounterVec
	runsTotal           *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	analysisCallsTotal  *prometheus.CounterVec
	rateLimitDelay      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetches_total",
				Help: "Total page fetches, labeled by district, transport, and status code.",
			},
			[]string{"district", "transport", "code"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetch_retries_total",
				Help: "Total transient-error fetch retries, labeled by district.",
			},
			[]string{"district"},
		)

		proxyFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_proxy_fallbacks_total",
				Help: "Total block detections that escalated to the proxy transport.",
			},
			[]string{"district"},
		)

		stageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Histogram of stage execution durations.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		)

		stageItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_items_total",
				Help: "Items processed per stage, labeled by district and result.",
			},
			[]string{"stage", "district", "result"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total pipeline runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_notifications_total",
				Help: "Total notification sends, labeled by channel kind and result.",
			},
			[]string{"channel", "result"},
		)

		analysisCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_analysis_calls_total",
				Help: "Total language-model calls, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_ratelimit_delay_seconds",
				Help:    "Delay introduced by the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counter for one completed attempt.
func ObserveFetch(district string, proxied bool, statusCode int) {
	if fetchesTotal == nil {
		return
	}
	transport := "direct"
	if proxied {
		transport = "proxy"
	}
	fetchesTotal.WithLabelValues(district, transport, strconv.Itoa(statusCode)).Inc()
}

// ObserveFetchRetry increments the transient-error retry counter.
func ObserveFetchRetry(district string) {
	if fetchRetriesTotal == nil {
		return
	}
	fetchRetriesTotal.WithLabelValues(district).Inc()
}

// ObserveProxyFallback increments the direct-to-proxy escalation counter.
func ObserveProxyFallback(district string) {
	if proxyFallbacksTotal == nil {
		return
	}
	proxyFallbacksTotal.WithLabelValues(district).Inc()
}

// ObserveStage records the duration of one stage execution.
func ObserveStage(stage string, d time.Duration) {
	if stageDuration == nil {
		return
	}
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveStageItem increments the per-stage item counter.
func ObserveStageItem(stage, district, result string) {
	if stageItemsTotal == nil {
		return
	}
	stageItemsTotal.WithLabelValues(stage, district, result).Inc()
}

// ObserveRun increments the run counter for the given outcome.
func ObserveRun(status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveNotification increments the notification counter.
func ObserveNotification(channel, result string) {
	if notificationsTotal == nil {
		return
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveAnalysisCall increments the language-model call counter.
func ObserveAnalysisCall(result string) {
	if analysisCallsTotal == nil {
		return
	}
	analysisCallsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the per-host limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	if rateLimitDelay == nil {
		return
	}
	rateLimitDelay.WithLabelValues(host).Observe(d.Seconds())
}
