package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the background jobs and the
// sync queue. One registration per process; constructed once in app wiring.
type Metrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	syncOutcome *prometheus.CounterVec

	sessionsEvicted  prometheus.Counter
	accountsLocked   prometheus.Counter
	accountsUnlocked prometheus.Counter
}

// NewMetrics registers the account-core instruments on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "account",
			Name:      "job_runs_total",
			Help:      "Background job executions by job name and result",
		}, []string{"job", "result"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "account",
			Name:      "job_duration_seconds",
			Help:      "Background job execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		syncOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "account",
			Name:      "sync_events_total",
			Help:      "Sync queue outcomes by event type and status",
		}, []string{"event_type", "status"}),
		sessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "account",
			Name:      "sessions_evicted_total",
			Help:      "Sessions terminated to stay under the active session limit",
		}),
		accountsLocked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "account",
			Name:      "accounts_locked_total",
			Help:      "Accounts locked by the failed login policy",
		}),
		accountsUnlocked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "account",
			Name:      "accounts_unlocked_total",
			Help:      "Accounts released by sweep or administrative unlock",
		}),
	}
}

// ObserveJob records one execution of a named background job.
func (m *Metrics) ObserveJob(job string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}

// ObserveSyncEvent records a sync queue transition for one event.
func (m *Metrics) ObserveSyncEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.syncOutcome.WithLabelValues(eventType, status).Inc()
}

// SessionEvicted counts a limit-driven session termination.
func (m *Metrics) SessionEvicted() {
	if m == nil {
		return
	}
	m.sessionsEvicted.Inc()
}

// AccountLocked counts a policy lock.
func (m *Metrics) AccountLocked() {
	if m == nil {
		return
	}
	m.accountsLocked.Inc()
}

// AccountUnlocked counts a lock release.
func (m *Metrics) AccountUnlocked() {
	if m == nil {
		return
	}
	m.accountsUnlocked.Inc()
}
