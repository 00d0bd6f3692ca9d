// Package pipeline sequences the extract, transform, load and validate stages of
// a run and applies the per-stage retry policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/airframesio/sales-pipeline/cmd/gateway"
	"github.com/airframesio/sales-pipeline/cmd/transform"
)

// Default retry policy: one retry five minutes after the first failure
const (
	DefaultAttempts = 2
	DefaultDelay    = 5 * time.Minute
)

// Extractor fetches the raw extract into a staging directory
type Extractor interface {
	FetchAll(ctx context.Context, bucket, localDir, suffix string) (gateway.FetchResult, error)
}

// Transformer turns the staged extract into an aggregate file
type Transformer interface {
	Transform(ctx context.Context, localDir string) (transform.AggregateFile, error)
}

// Loader replaces the target table with an aggregate file
type Loader interface {
	Load(ctx context.Context, path string) (int64, error)
}

// Validator checks the loaded table
type Validator interface {
	ValidateNonEmpty(ctx context.Context) (int64, error)
}

// StageSet holds the stage implementations for one run
type StageSet struct {
	Extractor   Extractor
	Transformer Transformer
	Loader      Loader
	Validator   Validator
}

// RetryPolicy is a fixed-delay retry budget. Attempts counts the first try.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Config is what a run needs besides its stage implementations
type Config struct {
	Bucket     string
	StagingDir string
	Suffix     string
	Retry      RetryPolicy
}

// Option configures a Runner
type Option func(*Runner)

// WithObserver registers an observer for runner events
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// WithRunID overrides the generated run ID
func WithRunID(id string) Option {
	return func(r *Runner) {
		r.runID = id
	}
}

// Runner executes the four stages strictly in order
type Runner struct {
	cfg       Config
	stages    StageSet
	logger    *slog.Logger
	observers []Observer
	runID     string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRunner creates a Runner. A non-positive attempt count is treated as one.
func NewRunner(cfg Config, stages StageSet, logger *slog.Logger, opts ...Option) *Runner {
	if cfg.Retry.Attempts < 1 {
		cfg.Retry.Attempts = 1
	}
	if cfg.Retry.Delay < 0 {
		cfg.Retry.Delay = 0
	}

	r := &Runner{
		cfg:    cfg,
		stages: stages,
		logger: logger,
		runID:  uuid.NewString(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the identifier of the run
func (r *Runner) RunID() string {
	return r.runID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes one full run. The report is always returned; the error is a
// *StageError when a stage exhausted its attempts or the context was cancelled.
// Cancellation is only observed between attempts and between stages.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	state := newRunState(r.runID)
	logger := r.logger.With("run_id", r.runID)
	started := r.now()

	r.emit(Event{Type: EventRunStarted, State: state.State})
	logger.Info(fmt.Sprintf("Starting run: bucket=%s staging=%s suffix=%s attempts=%d delay=%s",
		r.cfg.Bucket, r.cfg.StagingDir, r.cfg.Suffix, r.cfg.Retry.Attempts, r.cfg.Retry.Delay))

	steps := []struct {
		stage Stage
		fn    func(ctx context.Context) error
	}{
		{StageExtract, func(ctx context.Context) error {
			res, err := r.stages.Extractor.FetchAll(ctx, r.cfg.Bucket, r.cfg.StagingDir, r.cfg.Suffix)
			if err == nil {
				state.Fetched = res
			}
			return err
		}},
		{StageTransform, func(ctx context.Context) error {
			out, err := r.stages.Transformer.Transform(ctx, state.Fetched.Dir)
			if err == nil {
				state.Aggregate = out
			}
			return err
		}},
		{StageLoad, func(ctx context.Context) error {
			n, err := r.stages.Loader.Load(ctx, state.Aggregate.Path)
			if err == nil {
				state.RowsLoaded = n
			}
			return err
		}},
		{StageValidate, func(ctx context.Context) error {
			n, err := r.stages.Validator.ValidateNonEmpty(ctx)
			if err == nil {
				state.RowsValidated = n
			}
			return err
		}},
	}

	var runErr error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			state.fail(step.stage, err)
			runErr = &StageError{Stage: step.stage, Attempts: 0, Err: err}
			break
		}

		state.enter(step.stage)
		if err := r.runStage(ctx, logger.With("stage", string(step.stage)), state, step.stage, step.fn); err != nil {
			state.fail(step.stage, err.Err)
			runErr = err
			break
		}
	}

	if runErr == nil {
		state.succeed()
	}

	report := newReport(state, started, r.now())
	if runErr != nil {
		logger.Error(fmt.Sprintf("❌ Run failed at stage %s: %v", state.FailedStage, state.Cause))
	} else {
		logger.Info(fmt.Sprintf("✅ Run succeeded: %d rows loaded, %d rows validated in %s",
			report.RowsLoaded, report.RowsValidated, report.Duration().Round(time.Millisecond)))
	}

	r.emit(Event{Type: EventRunFinished, State: state.State, Stage: report.Stage, Err: state.Cause, Report: report})
	return report, runErr
}

func (r *Runner) runStage(ctx context.Context, logger *slog.Logger, state *RunState, stage Stage, fn func(context.Context) error) *StageError {
	maxAttempts := r.cfg.Retry.Attempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			logger.Info(fmt.Sprintf("Retrying %s in %s (attempt %d/%d)", stage, r.cfg.Retry.Delay, attempt, maxAttempts))
			if err := r.sleep(ctx, r.cfg.Retry.Delay); err != nil {
				return r.stageFailed(stage, attempt-1, errors.Join(err, lastErr))
			}
		}

		state.Attempts[stage] = attempt
		r.emit(Event{Type: EventStageStarted, Stage: stage, State: state.State, Attempt: attempt, MaxAttempts: maxAttempts})
		logger.Debug(fmt.Sprintf("Starting %s (attempt %d/%d)", stage, attempt, maxAttempts))

		// A started attempt runs to completion; cancellation is honored at the next boundary
		start := r.now()
		err := fn(context.WithoutCancel(ctx))
		elapsed := r.now().Sub(start)

		if err == nil {
			r.emit(Event{Type: EventStageSucceeded, Stage: stage, State: state.State, Attempt: attempt, MaxAttempts: maxAttempts, Duration: elapsed})
			logger.Info(fmt.Sprintf("Stage %s succeeded in %s", stage, elapsed.Round(time.Millisecond)))
			return nil
		}

		lastErr = err
		r.emit(Event{Type: EventAttemptFailed, Stage: stage, State: state.State, Attempt: attempt, MaxAttempts: maxAttempts, Duration: elapsed, Err: err})
		logger.Warn(fmt.Sprintf("Stage %s attempt %d/%d failed: %v", stage, attempt, maxAttempts, err))
	}

	return r.stageFailed(stage, maxAttempts, lastErr)
}

func (r *Runner) stageFailed(stage Stage, attempts int, err error) *StageError {
	r.emit(Event{Type: EventStageFailed, Stage: stage, State: StateFailed, Attempt: attempts, MaxAttempts: r.cfg.Retry.Attempts, Err: err})
	return &StageError{Stage: stage, Attempts: attempts, Err: err}
}

func (r *Runner) emit(e Event) {
	e.RunID = r.runID
	e.Time = r.now()
	for _, o := range r.observers {
		o.OnEvent(e)
	}
}
