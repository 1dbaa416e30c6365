package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "copilot_build_info",
		Help: "Build information of the copilot",
	}, []string{"version", "commit", "date"})

	QuestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_questions_total", Help: "Questions answered by route and outcome.",
	}, []string{"route", "outcome"})

	RouteDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_route_decisions_total", Help: "Route decisions by route and source (model or fallback).",
	}, []string{"route", "source"})

	SQLAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_sql_attempts_total", Help: "Executed SQL attempts by result.",
	}, []string{"result"})

	RepairOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_repair_outcomes_total", Help: "Terminal repair controller states.",
	}, []string{"state"})

	LLMCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_llm_cache_lookups_total", Help: "LLM completion cache lookups by result.",
	}, []string{"result"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copilot_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage"})

	AnswerConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "copilot_answer_confidence",
		Help:    "Confidence of emitted answers.",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})
)
