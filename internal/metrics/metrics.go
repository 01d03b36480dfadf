// Package metrics exposes Theater's process-wide Prometheus gauges and
// counters. These are registry-level counters; the per-actor GetMetrics
// payload (internal/actor.Metrics) is computed directly from the chain and
// does not go through Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the Theater Runtime updates. A nil *Registry
// is not usable; use Nop for components constructed without metrics wired.
type Registry struct {
	ActorsSpawned    *prometheus.CounterVec
	ActorsTerminal   *prometheus.CounterVec
	ActorsLive       prometheus.Gauge
	RestartsTotal    prometheus.Counter
	PermissionDenied *prometheus.CounterVec
	ReplayRuns       *prometheus.CounterVec
	SubscriberDrops  prometheus.Counter
}

// New registers Theater's metrics against reg. Pass prometheus.NewRegistry()
// for an isolated registry (production) or nil to build unregistered
// collectors, e.g. in tests that only read a Registry's fields directly.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ActorsSpawned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theater",
			Subsystem: "runtime",
			Name:      "actors_spawned_total",
			Help:      "Total number of actors spawned, labeled by manifest name.",
		}, []string{"manifest"}),
		ActorsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theater",
			Subsystem: "runtime",
			Name:      "actors_terminal_total",
			Help:      "Total number of actors reaching a terminal state, labeled by outcome.",
		}, []string{"outcome"}),
		ActorsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "theater",
			Subsystem: "runtime",
			Name:      "actors_live",
			Help:      "Number of actors currently registered with the runtime.",
		}),
		RestartsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "theater",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Total number of supervised actor restarts.",
		}),
		PermissionDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theater",
			Subsystem: "permission",
			Name:      "denied_total",
			Help:      "Total number of denied capability checks, labeled by interface.",
		}, []string{"interface"}),
		ReplayRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theater",
			Subsystem: "replay",
			Name:      "runs_total",
			Help:      "Total number of replay runs, labeled by outcome (pass|fail).",
		}, []string{"outcome"}),
		SubscriberDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "theater",
			Subsystem: "eventbus",
			Name:      "subscriber_drops_total",
			Help:      "Total number of subscribers dropped for failing to drain their channel.",
		}),
	}
}

// Nop returns a Registry backed by an isolated, discarded registerer, so
// components can depend on *Registry unconditionally without a nil check.
func Nop() *Registry {
	return New(prometheus.NewRegistry())
}
