package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine counters. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	value         *prometheus.CounterVec
	notifyFailure *prometheus.CounterVec
	circles       *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosca",
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		}, []string{"engine", "operation", "result"}),
		value: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosca",
			Name:      "value_moved_total",
			Help:      "Minor units moved through custody.",
		}, []string{"engine", "direction"}),
		notifyFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosca",
			Name:      "reputation_notify_failures_total",
			Help:      "Reputation notifications that failed and were discarded.",
		}, []string{"kind"}),
		circles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rosca",
			Name:      "circles",
			Help:      "Circles by lifecycle state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.value, m.notifyFailure, m.circles)
	}
	return m
}

func (m *Metrics) observeOperation(engine, operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(engine, operation, result).Inc()
}

func (m *Metrics) observeValue(engine, direction string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.value.WithLabelValues(engine, direction).Add(float64(amount))
}

func (m *Metrics) observeNotifyFailure(kind string) {
	if m == nil {
		return
	}
	m.notifyFailure.WithLabelValues(kind).Inc()
}

func (m *Metrics) setCircleStates(counts map[string]int) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.circles.WithLabelValues(state).Set(float64(n))
	}
}
