package kv

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "splitkv"

type metrics struct {
	commits prometheus.Counter
	aborts  prometheus.Counter
	splits  prometheus.Counter
	hazards *prometheus.CounterVec
}

// newMetrics returns nil when reg is nil; every method is nil-safe.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "txn",
			Name:      "commits_total",
			Help:      "committed write transactions",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "txn",
			Name:      "aborts_total",
			Help:      "aborted write transactions",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "txn",
			Name:      "splits_total",
			Help:      "write transactions split into read and write views",
		}),
		hazards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "split",
			Name:      "hazards_total",
			Help:      "unsound sub-store pairings observed during a split",
		}, []string{"pairing"}),
	}
	m.commits = register(reg, m.commits)
	m.aborts = register(reg, m.aborts)
	m.splits = register(reg, m.splits)
	m.hazards = register(reg, m.hazards)
	return m
}

// register reuses an already registered collector so that several
// environments can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}

func (m *metrics) commit() {
	if m != nil {
		m.commits.Inc()
	}
}

func (m *metrics) abort() {
	if m != nil {
		m.aborts.Inc()
	}
}

func (m *metrics) split() {
	if m != nil {
		m.splits.Inc()
	}
}

func (m *metrics) hazard(p Pairing) {
	if m != nil {
		m.hazards.WithLabelValues(p.String()).Inc()
	}
}
