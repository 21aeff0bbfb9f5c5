// Package observability holds the Prometheus collectors and the OTLP
// tracer setup shared by the pipeline and its servers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	pipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_pipeline_requests_total",
			Help: "Total number of chat requests handled by the pipeline",
		},
		[]string{"path", "outcome"}, // path: fast, orchestrated, gated, fallback
	)

	pipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoe_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 25, 30},
		},
		[]string{"path"},
	)
)

// =============================================================================
// CLASSIFIER METRICS
// =============================================================================

var (
	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_classifications_total",
			Help: "Total number of utterance classifications by resolving tier",
		},
		[]string{"tier", "intent", "degraded"},
	)

	classificationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoe_classification_duration_seconds",
			Help:    "Classification latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"tier"},
	)

	contextDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_context_decisions_total",
			Help: "Context Validator decisions by outcome and reason",
		},
		[]string{"fetch", "reason"},
	)
)

// =============================================================================
// MEMORY METRICS
// =============================================================================

var (
	memorySearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_memory_searches_total",
			Help: "Total number of episodic memory searches",
		},
		[]string{"status"}, // status: success, timeout, error
	)

	memorySearchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zoe_memory_search_duration_seconds",
			Help:    "Episodic memory search duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)
)

// =============================================================================
// WORKFLOW METRICS
// =============================================================================

var (
	workflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_workflow_executions_total",
			Help: "Total number of workflow executions by terminal state",
		},
		[]string{"state"},
	)

	workflowDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zoe_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 25},
		},
	)

	stepExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_step_executions_total",
			Help: "Total number of workflow step executions",
		},
		[]string{"role", "status"}, // status: completed, failed, skipped
	)

	stepDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoe_step_duration_seconds",
			Help:    "Workflow step duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"role"},
	)

	planningErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zoe_planning_errors_total",
			Help: "Plans rejected before a workflow was created",
		},
	)
)

// =============================================================================
// MODEL + TRACKER METRICS
// =============================================================================

var (
	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_model_calls_total",
			Help: "Total number of model-inference calls",
		},
		[]string{"operation", "model", "status"}, // status: success, error, timeout
	)

	modelDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoe_model_duration_seconds",
			Help:    "Model-inference call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation", "model"},
	)

	trackerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_satisfaction_writes_total",
			Help: "Satisfaction record upserts",
		},
		[]string{"status"}, // status: success, error, dropped
	)
)

// =============================================================================
// TRANSPORT METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoe_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"method"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_commbus_breaker_transitions_total",
			Help: "Circuit breaker state changes per bus message type",
		},
		[]string{"message_type", "state"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordPipelineRequest records one handled chat request.
func RecordPipelineRequest(path, outcome string, durationMS int) {
	pipelineRequestsTotal.WithLabelValues(path, outcome).Inc()
	pipelineDurationSeconds.WithLabelValues(path).Observe(float64(durationMS) / 1000.0)
}

// RecordClassification records the resolving tier of one classification.
func RecordClassification(tier, intent string, degraded bool, durationMS float64) {
	d := "false"
	if degraded {
		d = "true"
	}
	classificationsTotal.WithLabelValues(tier, intent, d).Inc()
	classificationDurationSeconds.WithLabelValues(tier).Observe(durationMS / 1000.0)
}

// RecordContextDecision records one Context Validator verdict.
func RecordContextDecision(fetch bool, reason string) {
	f := "skip"
	if fetch {
		f = "fetch"
	}
	contextDecisionsTotal.WithLabelValues(f, reason).Inc()
}

// RecordMemorySearch records one memory search.
func RecordMemorySearch(status string, durationMS int) {
	memorySearchesTotal.WithLabelValues(status).Inc()
	memorySearchDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordWorkflowExecution records a workflow reaching a terminal state.
func RecordWorkflowExecution(state string, durationMS int) {
	workflowExecutionsTotal.WithLabelValues(state).Inc()
	workflowDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordStepExecution records one step reaching a terminal status.
func RecordStepExecution(role, status string, durationMS int) {
	stepExecutionsTotal.WithLabelValues(role, status).Inc()
	stepDurationSeconds.WithLabelValues(role).Observe(float64(durationMS) / 1000.0)
}

// RecordPlanningError records a rejected plan.
func RecordPlanningError() {
	planningErrorsTotal.Inc()
}

// RecordModelCall records one model-inference call.
func RecordModelCall(operation, model, status string, durationMS int) {
	modelCallsTotal.WithLabelValues(operation, model, status).Inc()
	modelDurationSeconds.WithLabelValues(operation, model).Observe(float64(durationMS) / 1000.0)
}

// RecordTrackerWrite records a satisfaction upsert outcome.
func RecordTrackerWrite(status string) {
	trackerWritesTotal.WithLabelValues(status).Inc()
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

// RecordHTTPRequest records one HTTP response.
func RecordHTTPRequest(route, code string) {
	httpRequestsTotal.WithLabelValues(route, code).Inc()
}

// RecordBreakerTransition records a commbus circuit changing state.
func RecordBreakerTransition(messageType, state string) {
	breakerTransitionsTotal.WithLabelValues(messageType, state).Inc()
}
