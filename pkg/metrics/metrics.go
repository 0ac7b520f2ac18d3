// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "incident_engine"

// Candidate outcomes.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeSkipped   = "already_staged"
	OutcomeFailed    = "failed"
)

// Metrics holds every collector the service updates. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	candidates      *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	sourceErrors    *prometheus.CounterVec
	entitiesCreated prometheus.Counter
	linksCreated    prometheus.Counter
	extractionFails prometheus.Counter
	merges          *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry along
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Fetched candidates by source and pipeline outcome",
		}, []string{"source", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_runs_total",
			Help:      "Per-source ingestion runs by final status",
		}, []string{"source", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_run_duration_seconds",
			Help:      "Wall time of one per-source ingestion run",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"source"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_errors_total",
			Help:      "Connector fetch failures by source",
		}, []string{"source"}),
		entitiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_created_total",
			Help:      "Entities created by alias resolution",
		}),
		linksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_links_created_total",
			Help:      "Incident-entity links created by alias resolution",
		}),
		extractionFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Extraction calls that failed or returned unparseable output",
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_merges_total",
			Help:      "Entity merges by result",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mcp_tool_calls_total",
			Help:      "MCP tool calls by tool and result",
		}, []string{"tool", "result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.candidates, m.runs, m.runDuration, m.sourceErrors,
		m.entitiesCreated, m.linksCreated, m.extractionFails, m.merges,
		m.httpRequests, m.httpDuration, m.toolCalls,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Candidate(source, outcome string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Run(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(source, status).Inc()
	m.runDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) SourceError(source string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) Resolution(entitiesCreated, linksCreated int) {
	if m == nil {
		return
	}
	m.entitiesCreated.Add(float64(entitiesCreated))
	m.linksCreated.Add(float64(linksCreated))
}

func (m *Metrics) ExtractionFailure() {
	if m == nil {
		return
	}
	m.extractionFails.Inc()
}

func (m *Metrics) Merge(result string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ToolCall records one MCP tool invocation. result is "ok", "error" or
// "failed".
func (m *Metrics) ToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, result).Inc()
}
