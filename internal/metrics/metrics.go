package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	AnalysesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinpoint_analyses_started_total",
			Help: "Total number of analysis pipelines started",
		},
		[]string{"operation", "strategy"},
	)

	AnalysesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinpoint_analyses_completed_total",
			Help: "Total number of analysis pipelines completed",
		},
		[]string{"operation", "strategy", "status"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinpoint_analysis_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation", "strategy"},
	)

	// Expert metrics
	ExpertExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinpoint_expert_executions_total",
			Help: "Total number of clue expert executions",
		},
		[]string{"expert", "status"},
	)

	ExpertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinpoint_expert_duration_seconds",
			Help:    "Clue expert call duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"expert"},
	)

	// Verification metrics
	VerificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinpoint_verification_attempts_total",
			Help: "Verification calls by capability level",
		},
		[]string{"capability"},
	)

	VerificationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pinpoint_verification_fallbacks_total",
			Help: "Analyses that degraded to the clue-only fallback result",
		},
	)

	// Outcome metrics
	DefinitiveResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinpoint_results_total",
			Help: "Final results by definitive/ambiguous classification",
		},
		[]string{"classification"},
	)

	ConfidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pinpoint_result_confidence_score",
			Help:    "Final confidence score distribution",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// Reasoning client metrics
	ReasoningCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinpoint_reasoning_call_duration_seconds",
			Help:    "Outbound reasoning service call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)
)
