package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	once        sync.Once
	initialized bool

	events  *prometheus.CounterVec
	matches *prometheus.CounterVec
}

func (m *metrics) init() {
	m.once.Do(func() {
		m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardrail",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Count of bus events processed by outcome",
		}, []string{"outcome"})

		m.matches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardrail",
			Subsystem: "ingest",
			Name:      "matches_total",
			Help:      "Count of expectation match decisions",
		}, []string{"kind"})

		collectors := []prometheus.Collector{m.events, m.matches}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					if v, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
						if collector == m.events {
							m.events = v
						} else {
							m.matches = v
						}
					}
				}
			}
		}
		m.initialized = true
	})
}

func (m *metrics) event(outcome string) {
	if !m.initialized {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *metrics) match(kind string) {
	if !m.initialized {
		return
	}
	m.matches.WithLabelValues(kind).Inc()
}
