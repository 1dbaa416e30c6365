package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/malbeclabs/copilot/pkg/agent/metrics"
)

// MaxRepairs is the hard upper bound on repair attempts per question.
const MaxRepairs = 2

// RepairState is a state of the repair controller.
type RepairState string

const (
	StateGenerated        RepairState = "generated"
	StateExecuting        RepairState = "executing"
	StateSucceeded        RepairState = "succeeded"
	StateFailedRetryable  RepairState = "failed_retryable"
	StateFailedExhausted  RepairState = "failed_exhausted"
	StateGenerationFailed RepairState = "generation_failed"
	StateAborted          RepairState = "aborted"
)

// Terminal reports whether no further transitions leave the state.
func (s RepairState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailedExhausted, StateGenerationFailed, StateAborted:
		return true
	}
	return false
}

// RepairOutcome is the terminal result of the generate/execute/repair loop.
type RepairOutcome struct {
	State    RepairState
	Attempts []SQLAttempt
	// GenerationErr is set when the loop ended on a generation failure.
	GenerationErr error
}

// Repairs returns the number of repair attempts made.
func (o RepairOutcome) Repairs() int {
	if len(o.Attempts) == 0 {
		return 0
	}
	return len(o.Attempts) - 1
}

// LastExecuted returns the last attempt that reached the executor.
func (o RepairOutcome) LastExecuted() (SQLAttempt, bool) {
	for i := len(o.Attempts) - 1; i >= 0; i-- {
		if o.Attempts[i].Executed {
			return o.Attempts[i], true
		}
	}
	return SQLAttempt{}, false
}

// Succeeded returns the successful attempt, if any.
func (o RepairOutcome) Succeeded() (SQLAttempt, bool) {
	if o.State != StateSucceeded || len(o.Attempts) == 0 {
		return SQLAttempt{}, false
	}
	return o.Attempts[len(o.Attempts)-1], true
}

// GenerationTimedOut reports whether the loop ended on a generator timeout.
func (o RepairOutcome) GenerationTimedOut() bool {
	return errors.Is(o.GenerationErr, ErrGenerationTimeout)
}

// RepairController drives the bounded generate/execute/repair state machine.
type RepairController struct {
	log        *slog.Logger
	generator  *Generator
	executor   *Executor
	maxRepairs int
}

// NewRepairController returns a controller allowing up to maxRepairs repairs,
// clamped to [0, MaxRepairs].
func NewRepairController(log *slog.Logger, generator *Generator, executor *Executor, maxRepairs int) *RepairController {
	if maxRepairs < 0 {
		maxRepairs = 0
	}
	if maxRepairs > MaxRepairs {
		maxRepairs = MaxRepairs
	}
	return &RepairController{log: log, generator: generator, executor: executor, maxRepairs: maxRepairs}
}

// Run generates, executes and repairs SQL for req until an attempt succeeds
// or the repair budget is spent. A generation failure on the first attempt
// ends the loop with no attempts.
func (c *RepairController) Run(ctx context.Context, req GenerateRequest) RepairOutcome {
	maxAttempts := 1 + c.maxRepairs
	outcome := RepairOutcome{Attempts: make([]SQLAttempt, 0, maxAttempts)}

	attempt, err := c.generator.Generate(ctx, req, 0)
	if err != nil {
		outcome.State = StateGenerationFailed
		outcome.GenerationErr = err
		c.finish(req, outcome)
		return outcome
	}
	outcome.Attempts = append(outcome.Attempts, attempt)
	state := StateGenerated

	for !state.Terminal() {
		current := &outcome.Attempts[len(outcome.Attempts)-1]

		switch state {
		case StateGenerated:
			state = StateExecuting

		case StateExecuting:
			current.Result = c.executor.Execute(ctx, current.SQL)
			// A rejected write never reached the database.
			current.Executed = !current.Result.Rejected()
			c.recordAttempt(req, *current)
			switch {
			case current.Result.Succeeded():
				state = StateSucceeded
			case len(outcome.Attempts) < maxAttempts:
				state = StateFailedRetryable
			default:
				state = StateFailedExhausted
			}

		case StateFailedRetryable:
			if ctx.Err() != nil {
				state = StateAborted
				break
			}
			next := req
			next.PriorSQL = current.SQL
			next.PriorError = current.Result.Error.Message
			repaired, err := c.generator.Generate(ctx, next, len(outcome.Attempts))
			if err != nil {
				outcome.GenerationErr = err
				state = StateGenerationFailed
				break
			}
			outcome.Attempts = append(outcome.Attempts, repaired)
			state = StateGenerated
		}
	}

	outcome.State = state
	c.finish(req, outcome)
	return outcome
}

func (c *RepairController) recordAttempt(req GenerateRequest, a SQLAttempt) {
	result := "success"
	if a.Result.Error != nil {
		result = string(a.Result.Error.Kind)
		if c.log != nil {
			c.log.Info("agent: sql attempt failed",
				"question", req.Question.ID,
				"attempt", a.Index,
				"kind", a.Result.Error.Kind,
				"error", a.Result.Error.Message)
		}
	} else if c.log != nil {
		c.log.Debug("agent: sql attempt succeeded",
			"question", req.Question.ID, "attempt", a.Index, "rows", len(a.Result.Rows))
	}
	metrics.SQLAttempts.WithLabelValues(result).Inc()
}

func (c *RepairController) finish(req GenerateRequest, o RepairOutcome) {
	metrics.RepairOutcomes.WithLabelValues(string(o.State)).Inc()
	if c.log != nil && o.State != StateSucceeded {
		c.log.Info("agent: repair loop ended",
			"question", req.Question.ID,
			"state", o.State,
			"attempts", len(o.Attempts),
			"error", o.GenerationErr)
	}
}
