// Package agent implements the question-answering orchestration engine: it
// routes a question to the document corpus, the database or both, drives
// SQL generation through a bounded repair loop, and synthesizes a typed,
// cited answer with a confidence score.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/copilot/pkg/agent/metrics"
)

const (
	defaultTopK              = 5
	defaultRouteTimeout      = 30 * time.Second
	defaultGenerateTimeout   = 60 * time.Second
	defaultExecuteTimeout    = 30 * time.Second
	defaultSynthesizeTimeout = 60 * time.Second
)

// Timeouts bounds each blocking call. Question, when zero, defaults to the
// sum of the stage timeouts with the SQL stages counted once per attempt.
type Timeouts struct {
	Route      time.Duration
	Generate   time.Duration
	Execute    time.Duration
	Synthesize time.Duration
	Question   time.Duration
}

// Overall returns the per-question deadline.
func (t Timeouts) Overall(maxRepairs int) time.Duration {
	if t.Question > 0 {
		return t.Question
	}
	attempts := time.Duration(1 + maxRepairs)
	return t.Route + attempts*(t.Generate+t.Execute) + t.Synthesize
}

// Config holds the configuration for the orchestrator.
type Config struct {
	Logger   *slog.Logger
	LLM      LLMClient
	Schema   SchemaAccessor
	Engine   QueryEngine
	Searcher Searcher
	Prompts  *Prompts
	Clock    clockwork.Clock

	Timeouts   Timeouts
	TopK       int
	MinScore   float64
	MaxRepairs int
	Planner    PlannerConfig
}

func (cfg *Config) Validate() error {
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Schema == nil {
		return errors.New("schema accessor is required")
	}
	if cfg.Engine == nil {
		return errors.New("query engine is required")
	}
	if cfg.Searcher == nil {
		return errors.New("searcher is required")
	}
	if cfg.MaxRepairs < 0 || cfg.MaxRepairs > MaxRepairs {
		return fmt.Errorf("max repairs must be between 0 and %d", MaxRepairs)
	}
	if cfg.TopK < 0 {
		return errors.New("top k must not be negative")
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return errors.New("min score must be between 0 and 1")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TopK == 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.Timeouts.Route == 0 {
		cfg.Timeouts.Route = defaultRouteTimeout
	}
	if cfg.Timeouts.Generate == 0 {
		cfg.Timeouts.Generate = defaultGenerateTimeout
	}
	if cfg.Timeouts.Execute == 0 {
		cfg.Timeouts.Execute = defaultExecuteTimeout
	}
	if cfg.Timeouts.Synthesize == 0 {
		cfg.Timeouts.Synthesize = defaultSynthesizeTimeout
	}
	if cfg.Planner.Categories == nil && cfg.Planner.KPIs == nil {
		cfg.Planner = DefaultPlannerConfig()
	}
	return nil
}

// Orchestrator answers questions. It holds only read-only collaborators and
// is safe for concurrent use across questions.
type Orchestrator struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock

	router      *Router
	retriever   *Retriever
	planner     *Planner
	repair      *RepairController
	synthesizer *Synthesizer
	overall     time.Duration
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Prompts == nil {
		p, err := LoadPrompts()
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		cfg.Prompts = p
	}

	log := cfg.Logger
	generator := NewGenerator(log, cfg.LLM, cfg.Prompts.Generate, cfg.Timeouts.Generate)
	executor := NewExecutor(log, cfg.Engine, cfg.Timeouts.Execute)

	return &Orchestrator{
		log:         log,
		cfg:         cfg,
		clock:       cfg.Clock,
		router:      NewRouter(log, cfg.LLM, cfg.Prompts.Route, cfg.Timeouts.Route),
		retriever:   NewRetriever(log, cfg.Searcher, cfg.TopK, cfg.MinScore),
		planner:     NewPlanner(cfg.Planner),
		repair:      NewRepairController(log, generator, executor, cfg.MaxRepairs),
		synthesizer: NewSynthesizer(log, cfg.LLM, cfg.Prompts.Synthesize, cfg.Timeouts.Synthesize),
		overall:     cfg.Timeouts.Overall(cfg.MaxRepairs),
	}, nil
}

// Deadline returns the overall per-question deadline.
func (o *Orchestrator) Deadline() time.Duration {
	return o.overall
}

// Answer runs the full pipeline for one question. It always returns a
// result; failures are reflected in the answer's confidence and explanation.
func (o *Orchestrator) Answer(ctx context.Context, q Question) Result {
	ctx, cancel := context.WithTimeout(ctx, o.overall)
	defer cancel()

	trace := Trace{
		Constraints: []Constraint{},
		Chunks:      []RetrievedChunk{},
		Attempts:    []SQLAttempt{},
		Errors:      []ErrorKind{},
	}

	decision := stage(o, &trace, "route", func() RouteDecision {
		return o.router.Classify(ctx, q)
	})
	trace.Route = decision.Route
	trace.RouteSource = decision.Source
	if decision.Source == RouteSourceFallback {
		trace.Errors = append(trace.Errors, ErrorKindClassificationUnavailable)
	}
	if ctx.Err() != nil {
		return o.abandon(q, trace, nil)
	}

	var chunks []RetrievedChunk
	if decision.Route.UsesRetrieval() {
		chunks = stage(o, &trace, "retrieve", func() []RetrievedChunk {
			return o.retriever.Retrieve(ctx, q.Text)
		})
		if chunks != nil {
			trace.Chunks = chunks
		}
		if ctx.Err() != nil {
			return o.abandon(q, trace, nil)
		}
	}

	var outcome *RepairOutcome
	var tables []string
	if decision.Route.UsesSQL() {
		trace.Constraints = stage(o, &trace, "plan", func() []Constraint {
			return o.planner.Extract(q, chunks)
		})

		result := stage(o, &trace, "sql", func() RepairOutcome {
			schema, names, err := SchemaSummary(ctx, o.cfg.Schema)
			if err != nil {
				return RepairOutcome{
					State:         StateGenerationFailed,
					GenerationErr: fmt.Errorf("%w: schema unavailable: %v", ErrGenerationFailed, err),
				}
			}
			tables = names
			return o.repair.Run(ctx, GenerateRequest{
				Question:    q,
				Schema:      schema,
				Constraints: trace.Constraints,
			})
		})
		outcome = &result
		trace.Attempts = append(trace.Attempts, result.Attempts...)
		trace.RepairState = result.State

		if ctx.Err() != nil {
			return o.abandon(q, trace, outcome)
		}
		if result.State == StateGenerationFailed && len(result.Attempts) == 0 {
			return o.generationFailure(q, trace, result)
		}
	}

	answer, report := stage(o, &trace, "synthesize", func() synthesis {
		a, r := o.synthesizer.Synthesize(ctx, SynthesizeRequest{
			Question:    q,
			Route:       decision.Route,
			Constraints: trace.Constraints,
			Repair:      outcome,
			Chunks:      chunks,
			Tables:      tables,
		})
		return synthesis{a, r}
	}).unpack()
	trace.Errors = append(trace.Errors, report.Errors...)

	if ctx.Err() != nil {
		return o.abandon(q, trace, outcome)
	}
	return o.finish(q, answer, trace)
}

type synthesis struct {
	answer Answer
	report SynthesisReport
}

func (s synthesis) unpack() (Answer, SynthesisReport) {
	return s.answer, s.report
}

// stage runs fn and records its duration in the trace.
func stage[T any](o *Orchestrator, trace *Trace, name string, fn func() T) T {
	start := o.clock.Now()
	out := fn()
	d := o.clock.Since(start)
	trace.Stages = append(trace.Stages, StageTiming{Stage: name, Duration: d})
	metrics.StageDuration.WithLabelValues(name).Observe(d.Seconds())
	return out
}

// generationFailure is the hard failure for a question whose first SQL
// attempt could not be generated. Nothing is retried.
func (o *Orchestrator) generationFailure(q Question, trace Trace, outcome RepairOutcome) Result {
	kind := ErrorKindGenerationFailed
	if outcome.GenerationTimedOut() {
		kind = ErrorKindGenerationTimeout
	}
	trace.Errors = append(trace.Errors, kind)

	explanation := capitalize(kind.Describe()) + "; no query was run."
	if outcome.GenerationErr != nil {
		explanation = fmt.Sprintf("%s; no query was run (%v).", capitalize(kind.Describe()), outcome.GenerationErr)
	}
	answer := Answer{
		Value:       q.FormatHint.ZeroValue(),
		Explanation: explanation,
		Confidence: Score(Signals{
			Route:            trace.Route,
			SQLEntered:       true,
			GenerationFailed: true,
		}),
		SQL:       "",
		Citations: []string{},
	}
	return o.finish(q, answer, trace)
}

// abandon emits the degraded answer for a question that ran past its deadline.
func (o *Orchestrator) abandon(q Question, trace Trace, outcome *RepairOutcome) Result {
	trace.Errors = append(trace.Errors, ErrorKindOverallTimeout)

	var sql string
	if outcome != nil {
		if last, ok := outcome.LastExecuted(); ok {
			sql = last.SQL
		}
	}
	answer := Answer{
		Value:       q.FormatHint.ZeroValue(),
		Explanation: fmt.Sprintf("The question exceeded its time limit of %s and was abandoned.", o.overall),
		Confidence:  Score(Signals{Route: trace.Route, TimedOut: true}),
		SQL:         sql,
		Citations:   []string{},
	}
	return o.finish(q, answer, trace)
}

func (o *Orchestrator) finish(q Question, answer Answer, trace Trace) Result {
	if answer.Citations == nil {
		answer.Citations = []string{}
	}
	res := Result{QuestionID: q.ID, Answer: answer, Trace: trace}

	outcome := "answered"
	if res.Degraded() {
		outcome = "degraded"
	}
	metrics.QuestionsTotal.WithLabelValues(string(trace.Route), outcome).Inc()
	metrics.AnswerConfidence.Observe(answer.Confidence)

	if o.log != nil {
		o.log.Info("agent: question answered",
			"question", q.ID,
			"route", trace.Route,
			"attempts", len(trace.Attempts),
			"confidence", answer.Confidence,
			"outcome", outcome)
	}
	return res
}
