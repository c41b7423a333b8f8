package platform

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects runtime counters on a private registry so that several
// platforms can coexist in one process without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	fibersStarted   prometheus.Counter
	fibersCompleted *prometheus.CounterVec
	stmCommits      prometheus.Counter
	stmRetries      prometheus.Counter
}

// Fiber completion statuses used as the label of the completed counter.
const (
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// NewMetrics builds the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		fibersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiberfx",
			Name:      "fibers_started_total",
			Help:      "Total number of fibers started",
		}),
		fibersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fiberfx",
			Name:      "fibers_completed_total",
			Help:      "Total number of fibers completed",
		}, []string{"status"}),
		stmCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiberfx",
			Name:      "stm_commits_total",
			Help:      "Total number of successful STM commits",
		}),
		stmRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fiberfx",
			Name:      "stm_retries_total",
			Help:      "Total number of STM transaction restarts",
		}),
	}
	registry.MustRegister(m.fibersStarted, m.fibersCompleted, m.stmCommits, m.stmRetries)
	return m
}

// Registry exposes the underlying registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FiberStarted records a fork or root-fiber start.
func (m *Metrics) FiberStarted() { m.fibersStarted.Inc() }

// FiberCompleted records a terminal fiber exit with its status.
func (m *Metrics) FiberCompleted(status string) {
	m.fibersCompleted.WithLabelValues(status).Inc()
}

// STMCommitted records a successful transaction commit.
func (m *Metrics) STMCommitted() { m.stmCommits.Inc() }

// STMRetried records a transaction restart, whether from a version conflict
// or an explicit retry.
func (m *Metrics) STMRetried() { m.stmRetries.Inc() }
