// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine records into. A dedicated
// registry keeps tests isolated from the default global one.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsStarted   *prometheus.CounterVec
	SessionsCompleted *prometheus.CounterVec
	RoundsTotal       prometheus.Counter
	Interventions     *prometheus.CounterVec
	TokensTotal       *prometheus.CounterVec
	CostUSDTotal      *prometheus.CounterVec
	ConsensusScore    prometheus.Histogram
	SessionDuration   prometheus.Histogram
	ActiveSessions    prometheus.Gauge
}

// New creates and registers the engine collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) prometheus.Collector {
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{Registry: registry}

	m.SessionsStarted = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_sessions_started_total",
			Help: "Debate sessions started, by decision type",
		},
		[]string{"decision_type"},
	)).(*prometheus.CounterVec)

	m.SessionsCompleted = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_sessions_completed_total",
			Help: "Debate sessions finished, by terminal status",
		},
		[]string{"status"},
	)).(*prometheus.CounterVec)

	m.RoundsTotal = factory(prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panel_rounds_total",
			Help: "Debate rounds executed",
		},
	)).(prometheus.Counter)

	m.Interventions = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_moderator_interventions_total",
			Help: "Moderator interventions injected, by type",
		},
		[]string{"type"},
	)).(*prometheus.CounterVec)

	m.TokensTotal = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_tokens_total",
			Help: "Tokens consumed, by phase",
		},
		[]string{"phase"},
	)).(*prometheus.CounterVec)

	m.CostUSDTotal = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_cost_usd_total",
			Help: "Generation spend in USD, by phase",
		},
		[]string{"phase"},
	)).(*prometheus.CounterVec)

	m.ConsensusScore = factory(prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panel_consensus_score",
			Help:    "Final consensus score distribution",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)).(prometheus.Histogram)

	m.SessionDuration = factory(prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panel_session_duration_seconds",
			Help:    "Wall-clock session duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)).(prometheus.Histogram)

	m.ActiveSessions = factory(prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "panel_active_sessions",
			Help: "Sessions currently running",
		},
	)).(prometheus.Gauge)

	return m
}
