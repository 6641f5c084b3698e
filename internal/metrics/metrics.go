// Package metrics exposes Prometheus metrics for the crawl engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all engine metrics.
	MetricsNamespace = "bookcrawl"

	// MetricsSubsystem is the subsystem for engine metrics.
	MetricsSubsystem = "engine"
)

// Metrics holds all Prometheus metrics for the crawl engine.
type Metrics struct {
	// Task metrics
	TasksDispatchedTotal *prometheus.CounterVec
	TasksFinishedTotal   *prometheus.CounterVec
	TasksTimedOutTotal   *prometheus.CounterVec
	TaskDurationSeconds  *prometheus.HistogramVec

	// Session pool metrics
	PoolSessions     prometheus.Gauge
	PoolSessionsBusy prometheus.Gauge

	// Site availability metrics
	RateLimitPenaltiesTotal *prometheus.CounterVec
	LoginRequiredTotal      *prometheus.CounterVec
	AllSessionsBlockedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all engine metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.TasksDispatchedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched to a session",
		},
		[]string{"site", "type"},
	)

	m.TasksFinishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks that reached a terminal status",
		},
		[]string{"site", "type", "status"},
	)

	m.TasksTimedOutTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "tasks_timed_out_total",
			Help:      "Total number of tasks force-failed by the watchdog",
		},
		[]string{"site"},
	)

	m.TaskDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "task_duration_seconds",
			Help:      "Duration of task execution in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"site", "type"},
	)

	m.PoolSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "pool_sessions",
			Help:      "Current number of browser sessions in the pool",
		},
	)

	m.PoolSessionsBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "pool_sessions_busy",
			Help:      "Current number of sessions executing a task",
		},
	)

	m.RateLimitPenaltiesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "rate_limit_penalties_total",
			Help:      "Total number of rate-limit penalties applied to sessions",
		},
		[]string{"site"},
	)

	m.LoginRequiredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "login_required_total",
			Help:      "Total number of login-required detections",
		},
		[]string{"site"},
	)

	m.AllSessionsBlockedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "all_sessions_blocked_total",
			Help:      "Times every session was login-blocked for a site at once",
		},
		[]string{"site"},
	)

	return m
}

// ObservePool updates the pool gauges from a status snapshot.
func (m *Metrics) ObservePool(total, busy int) {
	m.PoolSessions.Set(float64(total))
	m.PoolSessionsBusy.Set(float64(busy))
}
