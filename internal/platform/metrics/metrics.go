// Package metrics exposes progression counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skoolup"

// Metrics holds the service counters on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	steps    *prometheus.CounterVec
	chapters *prometheus.CounterVec
	xp       *prometheus.CounterVec
	rejected *prometheus.CounterVec
	quests   *prometheus.CounterVec
	stale    prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_completed_total",
			Help:      "Steps transitioned to completed.",
		}, []string{"grade", "subject"}),
		chapters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chapters_completed_total",
			Help:      "Chapters transitioned to completed.",
		}, []string{"grade", "subject"}),
		xp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "XP granted, by award source.",
		}, []string{"source"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Progress operations rejected, by operation and reason.",
		}, []string{"operation", "reason"}),
		quests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quests_claimed_total",
			Help:      "Daily quests claimed.",
		}, []string{"quest"}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_snapshot_writes_total",
			Help:      "Snapshot saves refused by the version check.",
		}),
	}
	m.registry.MustRegister(
		m.steps, m.chapters, m.xp, m.rejected, m.quests, m.stale,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) StepCompleted(grade, subject string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(grade, subject).Inc()
}

func (m *Metrics) ChapterCompleted(grade, subject string) {
	if m == nil {
		return
	}
	m.chapters.WithLabelValues(grade, subject).Inc()
}

// XPAwarded adds xp under source (step, chapter or quest).
func (m *Metrics) XPAwarded(source string, xp int) {
	if m == nil || xp <= 0 {
		return
	}
	m.xp.WithLabelValues(source).Add(float64(xp))
}

func (m *Metrics) Rejected(operation, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) QuestClaimed(quest string) {
	if m == nil {
		return
	}
	m.quests.WithLabelValues(quest).Inc()
}

func (m *Metrics) StaleWrite() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
