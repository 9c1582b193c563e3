package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

// MetricsConfig holds configuration for metrics initialization
type MetricsConfig struct {
	Namespace string
	Subsystem string
	Registry  prometheus.Registerer
	Gatherer  prometheus.Gatherer
}

// DefaultMetricsConfig returns a config using the default Prometheus registry
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "autopunch",
		Subsystem: "",
		Registry:  prometheus.DefaultRegisterer,
		Gatherer:  prometheus.DefaultGatherer,
	}
}

// NewTestMetrics builds metrics on a private registry.
func NewTestMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	return NewMetricsWithConfig(MetricsConfig{
		Namespace: "autopunch",
		Registry:  registry,
		Gatherer:  registry,
	})
}

// Metrics holds all Prometheus metrics collectors
type Metrics struct {
	HttpRequestsTotal       *prometheus.CounterVec
	HttpRequestDuration     *prometheus.HistogramVec
	ExternalRequestDuration *prometheus.HistogramVec
	ExternalRequestsTotal   *prometheus.CounterVec
	RetryAttempts           *prometheus.CounterVec
	RetrySkipped            *prometheus.CounterVec
	RetryMaxAttempts        *prometheus.CounterVec
	StoreOperationDuration  *prometheus.HistogramVec
	StoreErrors             *prometheus.CounterVec
	SubmissionsTotal        *prometheus.CounterVec
	AccountRunsTotal        *prometheus.CounterVec
	SessionLogins           *prometheus.CounterVec
	SessionReuse            *prometheus.CounterVec
	HolidayLookups          *prometheus.CounterVec
	ContentGenerations      *prometheus.CounterVec
	ImageUploads            *prometheus.CounterVec
	NotificationsTotal      *prometheus.CounterVec
	RunDuration             prometheus.Histogram
	LastRunTimestamp        prometheus.Gauge
	BackgroundJobDuration   *prometheus.HistogramVec
	BackgroundJobErrors     *prometheus.CounterVec
	ErrorCount              *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec
	CircuitBreakerEvents    *prometheus.CounterVec
	registry                prometheus.Registerer
	gatherer                prometheus.Gatherer
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// NewMetrics returns the process-wide instance on the default registry
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetricsWithConfig(DefaultMetricsConfig())
	})
	return metrics
}

// NewMetricsWithConfig creates a new Metrics instance with custom configuration
func NewMetricsWithConfig(cfg MetricsConfig) *Metrics {
	factory := promauto.With(cfg.Registry)
	m := &Metrics{
		registry: cfg.Registry,
		gatherer: cfg.Gatherer,
	}

	// HTTP Metrics
	m.HttpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)
	m.HttpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// External service calls
	m.ExternalRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "external_request_duration_seconds",
			Help:      "Duration of calls to external services",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "operation"},
	)
	m.ExternalRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "external_requests_total",
			Help:      "Total number of calls to external services by result",
		},
		[]string{"service", "operation", "result"},
	)
	m.RetryAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "retry_attempts_total",
			Help:      "Total number of retried operations",
		},
		[]string{"operation", "error_code"},
	)
	m.RetrySkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "retry_skipped_total",
			Help:      "Total number of failures that were not retried due to error kind",
		},
		[]string{"operation", "error_code"},
	)
	m.RetryMaxAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "retry_max_attempts_total",
			Help:      "Total number of operations that exhausted the retry budget",
		},
		[]string{"operation"},
	)

	// State store
	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of state store operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation"},
	)
	m.StoreErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "store_errors_total",
			Help:      "Total number of state store errors",
		},
		[]string{"backend", "operation"},
	)

	// Scheduling outcomes
	m.SubmissionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "submissions_total",
			Help:      "Submission attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	m.AccountRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "account_runs_total",
			Help:      "Account runs by terminal status",
		},
		[]string{"status"},
	)
	m.SessionLogins = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "session_logins_total",
			Help:      "Fresh logins against the external service",
		},
		[]string{"result"},
	)
	m.SessionReuse = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "session_reuse_total",
			Help:      "Sessions reused without logging in",
		},
		[]string{"source"},
	)
	m.HolidayLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "holiday_lookups_total",
			Help:      "Holiday calendar lookups by result",
		},
		[]string{"result"},
	)
	m.ContentGenerations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "content_generations_total",
			Help:      "Report content generations by source and result",
		},
		[]string{"source", "result"},
	)
	m.ImageUploads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "image_uploads_total",
			Help:      "Image uploads by result",
		},
		[]string{"result"},
	)
	m.NotificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)
	m.RunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "run_duration_seconds",
			Help:      "Duration of a full batch run",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	m.LastRunTimestamp = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last batch run finished",
		},
	)

	// Background Job Metrics
	m.BackgroundJobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "background_job_duration_seconds",
			Help:      "Duration of scheduled jobs in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"job_name"},
	)
	m.BackgroundJobErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "background_job_errors_total",
			Help:      "Total number of scheduled job errors",
		},
		[]string{"job_name", "error_type"},
	)

	// Error Metrics
	m.ErrorCount = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "error_total",
			Help:      "Total number of errors by type and code",
		},
		[]string{"error_type", "error_code"},
	)

	// Circuit Breaker Metrics
	m.CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breakers (0=closed, 0.5=half_open, 1=open)",
		},
		[]string{"name"},
	)
	m.CircuitBreakerEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_events_total",
			Help:      "Total number of circuit breaker events",
		},
		[]string{"name", "event_type", "reason"},
	)

	return m
}

// RecordBackgroundJob records metrics for scheduled job execution
func (m *Metrics) RecordBackgroundJob(jobName string, duration time.Duration, err error) {
	m.BackgroundJobDuration.WithLabelValues(jobName).Observe(duration.Seconds())
	if err != nil {
		m.BackgroundJobErrors.WithLabelValues(jobName, string(errors.CodeOf(err))).Inc()
	}
}

// RecordError records error metrics by type
func (m *Metrics) RecordError(err error) {
	if err == nil {
		return
	}
	errType := errors.ErrorTypeServer
	if appErr, ok := errors.AsAppError(err); ok {
		errType = appErr.ErrorType
	}
	m.ErrorCount.WithLabelValues(string(errType), string(errors.CodeOf(err))).Inc()
}

// RecordExternalCall records one call to an external service
func (m *Metrics) RecordExternalCall(service, operation string, duration time.Duration, err error) {
	m.ExternalRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
	result := "ok"
	if err != nil {
		result = string(errors.CodeOf(err))
	}
	m.ExternalRequestsTotal.WithLabelValues(service, operation, result).Inc()
}

// RecordRun records the end of a batch run
func (m *Metrics) RecordRun(duration time.Duration, finishedAt time.Time) {
	m.RunDuration.Observe(duration.Seconds())
	m.LastRunTimestamp.Set(float64(finishedAt.Unix()))
}

// Push sends the current state to a Prometheus push gateway
func (m *Metrics) Push(url, job string) error {
	return push.New(url, job).Gatherer(m.gatherer).Push()
}

// Registry returns the Prometheus registry used by this Metrics instance
func (m *Metrics) Registry() prometheus.Registerer {
	return m.registry
}

// Gatherer returns the Prometheus gatherer used by this Metrics instance
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Unregister removes all metrics from the registry
// Useful for testing to prevent metric collisions
func (m *Metrics) Unregister() {
	if m.registry == nil {
		return
	}
	collectors := []prometheus.Collector{
		m.HttpRequestsTotal,
		m.HttpRequestDuration,
		m.ExternalRequestDuration,
		m.ExternalRequestsTotal,
		m.RetryAttempts,
		m.RetrySkipped,
		m.RetryMaxAttempts,
		m.StoreOperationDuration,
		m.StoreErrors,
		m.SubmissionsTotal,
		m.AccountRunsTotal,
		m.SessionLogins,
		m.SessionReuse,
		m.HolidayLookups,
		m.ContentGenerations,
		m.ImageUploads,
		m.NotificationsTotal,
		m.RunDuration,
		m.LastRunTimestamp,
		m.BackgroundJobDuration,
		m.BackgroundJobErrors,
		m.ErrorCount,
		m.CircuitBreakerState,
		m.CircuitBreakerEvents,
	}
	for _, collector := range collectors {
		m.registry.Unregister(collector)
	}
}
