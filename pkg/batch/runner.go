package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/copilot/pkg/agent"
)

const defaultWorkers = 4

// Answerer answers one question. It must always return a result.
type Answerer interface {
	Answer(ctx context.Context, q agent.Question) agent.Result
}

type RunnerConfig struct {
	Logger   *slog.Logger
	Answerer Answerer
	Output   *Sink
	// Trace is optional.
	Trace   *Sink
	Workers int
	Clock   clockwork.Clock
}

func (cfg *RunnerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Answerer == nil {
		return errors.New("answerer is required")
	}
	if cfg.Output == nil {
		return errors.New("output sink is required")
	}
	if cfg.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Questions int
	Degraded  int
	ByRoute   map[agent.Route]int
	Duration  time.Duration
}

// Runner drains a question list through a fixed-size worker pool. Each
// worker runs one question's pipeline end to end.
type Runner struct {
	log *slog.Logger
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, cfg: cfg}, nil
}

// Run answers every question and writes exactly one record per question.
// It fails only when a sink cannot be written.
func (r *Runner) Run(ctx context.Context, questions []agent.Question) (Summary, error) {
	runID := uuid.NewString()
	start := r.cfg.Clock.Now()
	log := r.log.With("run", runID)
	log.Info("batch: run starting", "questions", len(questions), "workers", r.cfg.Workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := pond.NewPool(r.cfg.Workers)
	defer pool.StopAndWait()

	var (
		mu       sync.Mutex
		summary  = Summary{RunID: runID, ByRoute: make(map[agent.Route]int)}
		writeErr error
	)

	group := pool.NewGroup()
	for _, q := range questions {
		group.Submit(func() {
			res := r.answer(ctx, log, q)

			err := r.cfg.Output.Write(NewRecord(res))
			if err == nil && r.cfg.Trace != nil {
				err = r.cfg.Trace.Write(NewTraceRecord(runID, res))
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if writeErr == nil {
					writeErr = err
					cancel()
				}
				return
			}
			summary.Questions++
			summary.ByRoute[res.Trace.Route]++
			if res.Degraded() {
				summary.Degraded++
			}
		})
	}
	_ = group.Wait()

	summary.Duration = r.cfg.Clock.Since(start)
	if writeErr != nil {
		return summary, fmt.Errorf("batch aborted: %w", writeErr)
	}
	log.Info("batch: run finished",
		"questions", summary.Questions,
		"degraded", summary.Degraded,
		"duration", summary.Duration)
	return summary, nil
}

// answer runs one question, turning a panic into a degraded result so the
// question still gets its record.
func (r *Runner) answer(ctx context.Context, log *slog.Logger, q agent.Question) (res agent.Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("batch: question panicked", "question", q.ID, "panic", p, "stack", string(debug.Stack()))
			res = failedResult(q, fmt.Sprintf("%v", p))
		}
	}()
	return r.cfg.Answerer.Answer(ctx, q)
}

func failedResult(q agent.Question, reason string) agent.Result {
	return agent.Result{
		QuestionID: q.ID,
		Answer: agent.Answer{
			Value:       q.FormatHint.ZeroValue(),
			Explanation: fmt.Sprintf("The question could not be answered because of an internal error: %s.", reason),
			Confidence:  0,
			SQL:         "",
			Citations:   []string{},
		},
		Trace: agent.Trace{
			Constraints: []agent.Constraint{},
			Chunks:      []agent.RetrievedChunk{},
			Attempts:    []agent.SQLAttempt{},
			Errors:      []agent.ErrorKind{},
		},
	}
}
