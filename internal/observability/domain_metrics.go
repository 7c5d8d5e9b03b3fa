package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_questions_total",
			Help: "Total number of answered questions by pipeline mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_stage_duration_seconds",
			Help:    "Duration of pipeline stages (translate, execute, rephrase, agent).",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	agentIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_agent_iterations",
			Help:    "Number of reasoning iterations per agent run.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)
	unsafeQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_unsafe_queries_total",
			Help: "Total number of statements rejected by the read-only guard.",
		},
	)
	queryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_query_failures_total",
			Help: "Total number of statements the database rejected.",
		},
	)
	streamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_stream_frames_total",
			Help: "Total number of event frames written to clients.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		stageDurationSeconds,
		agentIterations,
		unsafeQueriesTotal,
		queryFailuresTotal,
		streamFramesTotal,
	)
}

func ObserveQuestion(mode, outcome string) {
	questionsTotal.WithLabelValues(mode, outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveAgentIterations(iterations int) {
	if iterations < 0 {
		iterations = 0
	}
	agentIterations.Observe(float64(iterations))
}

func IncrementUnsafeQuery() {
	unsafeQueriesTotal.Inc()
}

func IncrementQueryFailure() {
	queryFailuresTotal.Inc()
}

func IncrementStreamFrame(event string) {
	streamFramesTotal.WithLabelValues(event).Inc()
}
