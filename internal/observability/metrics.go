// Package observability wires rcrt's daemons into Prometheus and
// OpenTelemetry, adapted from the teacher's internal/observability package
// down to the metrics and spans rcrt's two daemons actually emit: LLM
// completions, tool executions, and catalog publish outcomes.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the agent runner and
// tool runner. A nil *Metrics is safe to call methods on (every method is a
// no-op), so callers that don't wire a registry pay nothing.
type Metrics struct {
	// LLMRequestDuration measures completion latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts completion calls by outcome.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by outcome.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks classified errors by component and kind.
	// Labels: component (agentrunner|toolrunner), error_kind
	ErrorCounter *prometheus.CounterVec

	// CatalogPublishCounter counts tool.catalog.v1 publish attempts.
	// Labels: workspace, status (success|conflict|error)
	CatalogPublishCounter *prometheus.CounterVec
}

// NewMetrics registers and returns a fresh Metrics against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// repeated construction in tests from panicking on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rcrt_llm_request_duration_seconds",
				Help:    "Duration of LLM completion calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcrt_llm_requests_total",
				Help: "Total number of LLM completion calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcrt_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcrt_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rcrt_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcrt_errors_total",
				Help: "Total number of classified errors by component and kind",
			},
			[]string{"component", "error_kind"},
		),
		CatalogPublishCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcrt_catalog_publish_total",
				Help: "Total number of tool.catalog.v1 publish attempts by workspace and status",
			},
			[]string{"workspace", "status"},
		),
	}
}

// RecordLLMRequest records one completion call's outcome, latency, and
// token spend.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool.request.v1 dispatch's outcome and
// latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and
// rerrors.Kind string.
func (m *Metrics) RecordError(component, errorKind string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordCatalogPublish records a publishCatalog attempt's outcome.
func (m *Metrics) RecordCatalogPublish(workspace, status string) {
	if m == nil {
		return
	}
	m.CatalogPublishCounter.WithLabelValues(workspace, status).Inc()
}
