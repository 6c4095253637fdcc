package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ragd.orchestrator")

var (
	// QueriesTotal counts queries by mode and outcome
	// (ok, no_relevant_content, error).
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "orchestrator",
			Name:      "queries_total",
			Help:      "Total number of queries by retrieval mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// WebFallbacksTotal counts threshold decisions that chose the web.
	WebFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "orchestrator",
			Name:      "web_fallbacks_total",
			Help:      "Total number of queries that fell back to web search",
		},
		[]string{"mode"},
	)

	// DegradedTotal counts non-fatal collaborator failures.
	DegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "orchestrator",
			Name:      "degraded_total",
			Help:      "Total number of web or memory failures absorbed by a query",
		},
		[]string{"source"},
	)

	// TopScore observes the best document score per query.
	TopScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "orchestrator",
			Name:      "top_document_score",
			Help:      "Best document similarity score per query",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// QueryDuration tracks end-to-end Answer latency.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "orchestrator",
			Name:      "query_duration_seconds",
			Help:      "Duration of query context assembly in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)
