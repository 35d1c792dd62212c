// Package metrics holds the Prometheus collectors for fetch and parse work.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"icalfeed/ics"
)

const namespace = "icalfeed"

// Fetch results.
const (
	ResultOK    = "ok"
	ResultCache = "cache"
	ResultError = "error"
)

// Metrics owns a private registry so tests and multiple servers do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal      *prometheus.CounterVec
	linesTotal      *prometheus.CounterVec
	skippedTotal    *prometheus.CounterVec
	ruleErrorsTotal *prometheus.CounterVec
	components      *prometheus.GaugeVec
	parseDuration   *prometheus.HistogramVec
	lastRefresh     prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Calendar retrievals by source and result (ok, cache, error).",
		}, []string{"source", "result"}),
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parsed_lines_total",
			Help:      "Logical content lines consumed by the parser.",
		}, []string{"source"}),
		skippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_lines_total",
			Help:      "Malformed or unbalanced lines the parser skipped.",
		}, []string{"source"}),
		ruleErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "RRULE values the recurrence engine rejected.",
		}, []string{"source"}),
		components: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "components",
			Help:      "Components closed in the latest parse of a source.",
		}, []string{"source"}),
		parseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Wall time of one parse.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"source"}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last completed refresh.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchTotal,
		m.linesTotal,
		m.skippedTotal,
		m.ruleErrorsTotal,
		m.components,
		m.parseDuration,
		m.lastRefresh,
	)
	return m
}

// ObserveFetch counts one retrieval.
func (m *Metrics) ObserveFetch(source, result string) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(source, result).Inc()
}

// ObserveParse records the stats and duration of one parse.
func (m *Metrics) ObserveParse(source string, st ics.Stats, d time.Duration) {
	if m == nil {
		return
	}
	m.linesTotal.WithLabelValues(source).Add(float64(st.Lines))
	m.skippedTotal.WithLabelValues(source).Add(float64(st.Skipped))
	m.ruleErrorsTotal.WithLabelValues(source).Add(float64(st.RuleErrors))
	m.components.WithLabelValues(source).Set(float64(st.Components))
	m.parseDuration.WithLabelValues(source).Observe(d.Seconds())
}

// MarkRefresh records the completion time of a refresh cycle.
func (m *Metrics) MarkRefresh(t time.Time) {
	if m == nil {
		return
	}
	m.lastRefresh.Set(float64(t.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
