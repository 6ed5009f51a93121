package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_workflows_started_total",
			Help: "Total number of workflow graph runs started",
		},
		[]string{"path"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_workflows_completed_total",
			Help: "Total number of workflow graph runs completed",
		},
		[]string{"path", "status"},
	)

	WorkflowPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codequery_workflow_pauses_total",
			Help: "Total number of workflow pauses on input_required",
		},
	)

	WorkflowResumes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_workflow_resumes_total",
			Help: "Total number of workflow resumes from a paused node",
		},
		[]string{"source"}, // "auto" (orchestrator answered) or "user"
	)

	// Node metrics
	NodesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_workflow_nodes_executed_total",
			Help: "Total number of workflow nodes executed",
		},
		[]string{"node_key", "status"},
	)

	NodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codequery_workflow_node_duration_seconds",
			Help:    "Node execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlannerTasksGenerated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codequery_planner_tasks_generated",
			Help:    "Number of sub-tasks grafted per planner artifact",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Fast path metrics
	FastPathDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_fastpath_decisions_total",
			Help: "Fast-path classifier decisions",
		},
		[]string{"decision"}, // "simple", "complex", "fallback"
	)

	// Agent directory metrics
	AgentResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_agent_resolutions_total",
			Help: "Agent directory resolution attempts",
		},
		[]string{"kind", "status"}, // kind: "planner" or "similarity"
	)

	AgentCardsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codequery_agent_cards_loaded",
			Help: "Number of agent cards currently loaded in the directory",
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_embedding_requests_total",
			Help: "Embedding requests by outcome",
		},
		[]string{"model", "status"}, // status: ok, error, lru_hit, cache_hit
	)

	EmbeddingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codequery_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Collaborator (LLM) metrics
	CollaboratorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codequery_collaborator_calls_total",
			Help: "LLM collaborator calls by kind and outcome",
		},
		[]string{"kind", "status"}, // kind: classify, answer, summarize
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codequery_sessions_active",
			Help: "Number of sessions currently held in memory",
		},
	)

	SessionsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codequery_sessions_cleared_total",
			Help: "Total number of explicit or implicit session clears",
		},
	)

	SessionEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codequery_session_evictions_total",
			Help: "Total number of sessions evicted from the store",
		},
	)

	// Streaming metrics
	StreamEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codequery_stream_events_published_total",
			Help: "Total events published to the streaming manager",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codequery_stream_events_dropped_total",
			Help: "Events dropped due to slow subscribers",
		},
	)
)

// RecordEmbeddingMetrics records one embedding request outcome with latency
// in seconds (0 for cache hits).
func RecordEmbeddingMetrics(model, status string, seconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if seconds > 0 {
		EmbeddingLatency.Observe(seconds)
	}
}
