package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the pipeline's coarse outcomes. Exposed so long
// unattended runs can be watched from the outside.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	ScenesGenerated prometheus.Counter
	ArcsCompleted   *prometheus.CounterVec
	RetroSessions   prometheus.Counter
	SceneDuration   prometheus.Histogram
}

// NewMetrics registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scrivener",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		ScenesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrivener",
			Name:      "scenes_generated_total",
			Help:      "Finished scenes appended to the chapter log.",
		}),
		ArcsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scrivener",
			Name:      "arcs_completed_total",
			Help:      "Completed macro arcs by kind.",
		}, []string{"kind"}),
		RetroSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrivener",
			Name:      "retro_sessions_total",
			Help:      "Retrospective sessions held.",
		}),
		SceneDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scrivener",
			Name:      "scene_duration_seconds",
			Help:      "Wall time to draft, refine, and finalize one scene.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.RunsTotal, m.ScenesGenerated, m.ArcsCompleted, m.RetroSessions, m.SceneDuration)
	}
	return m
}

func (m *Metrics) runOutcome(outcome string) {
	if m != nil {
		m.RunsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) sceneDone(seconds float64) {
	if m != nil {
		m.ScenesGenerated.Inc()
		m.SceneDuration.Observe(seconds)
	}
}

func (m *Metrics) arcCompleted(kind string) {
	if m != nil {
		m.ArcsCompleted.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) retroHeld() {
	if m != nil {
		m.RetroSessions.Inc()
	}
}
