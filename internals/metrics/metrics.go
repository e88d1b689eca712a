// Package metrics provides Prometheus metrics for the task engine and HTTP
// surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gptrader_tasks_submitted_total",
			Help: "Total number of task submissions admitted to the slot",
		},
		[]string{"kind"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gptrader_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
		[]string{"kind"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gptrader_tasks_failed_total",
			Help: "Total number of tasks that failed",
		},
		[]string{"kind"},
	)
	TasksCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gptrader_tasks_cancelled_total",
			Help: "Total number of tasks cancelled",
		},
		[]string{"kind"},
	)
	BusyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gptrader_busy_rejections_total",
			Help: "Total number of submissions rejected because the slot was busy",
		},
		[]string{"kind"},
	)
	SchedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gptrader_scheduler_skips_total",
			Help: "Total number of scheduled triggers skipped due to a busy slot",
		},
		[]string{"kind"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gptrader_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind", "status"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gptrader_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gptrader_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	SSESubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gptrader_sse_subscribers",
			Help: "Number of currently connected SSE subscribers",
		},
	)
)

func RecordTaskTerminal(kind string, status string, duration time.Duration) {
	switch status {
	case "completed":
		TasksCompleted.WithLabelValues(kind).Inc()
	case "failed":
		TasksFailed.WithLabelValues(kind).Inc()
	case "cancelled":
		TasksCancelled.WithLabelValues(kind).Inc()
	}
	TaskDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
