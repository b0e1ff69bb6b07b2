package observability

import (
	"net/http"

	"github.com/buildscope/buildscope/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	linesTotal           prometheus.Counter
	eventsTotal          *prometheus.CounterVec
	unfinishedRulesTotal *prometheus.CounterVec
	sessionsTotal        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		linesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "buildscope_lines_total", Help: "Total log lines classified"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "buildscope_events_total", Help: "Total events emitted"},
			[]string{"severity", "header"},
		),
		unfinishedRulesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "buildscope_unfinished_rules_total", Help: "Rules still active when their phase or stream ended"},
			[]string{"phase", "rule"},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "buildscope_sessions_total", Help: "Classification sessions by source and outcome"},
			[]string{"source", "outcome"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.linesTotal,
		m.eventsTotal,
		m.unfinishedRulesTotal,
		m.sessionsTotal,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLine() {
	if m == nil {
		return
	}
	m.linesTotal.Inc()
}

func (m *Metrics) ObserveEvent(e engine.Event) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(e.Severity), e.Header).Inc()
}

// ReportUnfinished lets Metrics act as an engine.Reporter.
func (m *Metrics) ReportUnfinished(f engine.Failure) {
	if m == nil {
		return
	}
	m.unfinishedRulesTotal.WithLabelValues(f.Phase, f.Rule).Inc()
}

func (m *Metrics) ObserveSession(source, outcome string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(source, outcome).Inc()
}
