// Package metrics exposes Prometheus collectors for the extraction service.
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

// Task outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

var (
	droverTasksTotal          *prometheus.CounterVec
	droverTaskDurationSeconds *prometheus.HistogramVec
	droverActiveWorkers       prometheus.Gauge
	droverQueueRemaining      prometheus.Gauge
	droverLockWaitSeconds     prometheus.Histogram
	droverPagesClaimedTotal   prometheus.Counter
	droverRecordsTotal        prometheus.Counter

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		droverTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drover_tasks_total",
				Help: "Total number of tasks finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		droverTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drover_task_duration_seconds",
				Help:    "Histogram of runner invocation durations, labeled by outcome.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"outcome"},
		)

		droverActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "drover_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		droverQueueRemaining = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "drover_queue_remaining",
				Help: "Pending tasks left in the persisted queue.",
			},
		)

		droverLockWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "drover_lock_wait_seconds",
				Help:    "Histogram of time spent waiting for the state file lock.",
				Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 10},
			},
		)

		droverPagesClaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "drover_pages_claimed_total",
				Help: "Total page numbers claimed from the page counter.",
			},
		)

		droverRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "drover_records_total",
				Help: "Total extracted records observed in runner output.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one finished runner invocation.
func ObserveTask(outcome string, duration time.Duration) {
	droverTasksTotal.WithLabelValues(outcome).Inc()
	droverTaskDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	droverActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	droverActiveWorkers.Dec()
}

// SetQueueRemaining records how many tasks are still pending.
func SetQueueRemaining(n int) {
	droverQueueRemaining.Set(float64(n))
}

// ObserveLockWait records how long a queue operation waited for the lock.
func ObserveLockWait(duration time.Duration) {
	droverLockWaitSeconds.Observe(duration.Seconds())
}

// IncPagesClaimed counts one claimed page number.
func IncPagesClaimed() {
	droverPagesClaimedTotal.Inc()
}

// AddRecords counts records seen in a completed page of output.
func AddRecords(n int) {
	if n > 0 {
		droverRecordsTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
