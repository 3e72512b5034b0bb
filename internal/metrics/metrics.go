package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts finished login attempts by outcome.
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yachtlog_login_attempts_total",
			Help: "The total number of login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// TokenExchangeDuration is a histogram of token endpoint round trips.
	TokenExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yachtlog_token_exchange_duration_seconds",
			Help:    "A histogram of the token exchange duration.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Authenticated is 1 while an access token is held, 0 otherwise.
	Authenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yachtlog_authenticated",
			Help: "Whether the client currently holds an access token.",
		},
	)

	// APIRequests counts yacht API calls by operation and status code.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yachtlog_api_requests_total",
			Help: "The total number of yacht API requests.",
		},
		[]string{"operation", "status"},
	)

	// APIRequestDuration is a histogram of yacht API latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yachtlog_api_request_duration_seconds",
			Help:    "A histogram of the yacht API request duration.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// TasksCompleted is a counter for pool tasks completed successfully.
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yachtlog_tasks_completed_total",
			Help: "The total number of tasks completed successfully.",
		},
		[]string{"pool"},
	)

	// TasksFailed is a counter for tasks moved to the dead letter queue.
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yachtlog_tasks_failed_total",
			Help: "The total number of tasks that exhausted their retries.",
		},
		[]string{"pool"},
	)

	// TaskRetries is a counter for task retries.
	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yachtlog_task_retries_total",
			Help: "The total number of times a task has been retried.",
		},
		[]string{"pool"},
	)

	// TasksInFlight is a gauge that shows the number of currently running tasks.
	TasksInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "yachtlog_tasks_in_flight",
			Help: "The number of tasks currently being executed.",
		},
		[]string{"pool"},
	)
)
