package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/retry"
)

// Runner starts one execution for a payload. It returns once the execution
// is accepted, not when it finishes.
type Runner interface {
	Start(ctx context.Context, p *Payload) error
}

// Timeouts bound a whole execution and each stage attempt.
type Timeouts struct {
	Execution    time.Duration
	Extract      time.Duration
	Stage        time.Duration
	VectorIngest time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Execution:    30 * time.Minute,
		Extract:      10 * time.Minute,
		Stage:        2 * time.Minute,
		VectorIngest: 15 * time.Minute,
	}
}

// For returns the per-attempt bound of a stage.
func (t Timeouts) For(s Stage) time.Duration {
	switch s {
	case StageExtractText:
		return t.Extract
	case StageVectorIngest:
		return t.VectorIngest
	default:
		return t.Stage
	}
}

// Executor walks the state machine in process, retrying each stage at its
// boundary. The local runner and the tests use it directly.
type Executor struct {
	runtime  *Runtime
	fail     *FailHandler
	timeouts Timeouts
	retry    retry.Policy
	log      *logger.Logger
}

func NewExecutor(rt *Runtime, fail *FailHandler, t Timeouts, policy retry.Policy, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{runtime: rt, fail: fail, timeouts: t, retry: policy, log: log}
}

// Execute runs p to COMPLETE or FAILED and returns the terminal state.
func (e *Executor) Execute(ctx context.Context, p *Payload) (Stage, error) {
	if e.timeouts.Execution > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeouts.Execution)
		defer cancel()
	}
	return Walk(ctx, p, e.step, e.handleFailure)
}

func (e *Executor) step(ctx context.Context, stage Stage, p *Payload) error {
	notify := func(attempt int, err error, wait time.Duration) {
		e.log.Warn("stage attempt failed, retrying", "job_id", p.JobID, "stage", string(stage),
			"attempt", attempt, "wait", wait, "error", err)
	}
	return retry.Run(ctx, e.retry, notify, func(ctx context.Context) error {
		if d := e.timeouts.For(stage); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		err := e.runtime.Run(ctx, stage, p)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && !apperr.Is(err, apperr.KindTimeout) {
			return apperr.Timeout(string(stage), err)
		}
		return err
	})
}

// handleFailure records the failure even when the execution deadline has
// already passed.
func (e *Executor) handleFailure(ctx context.Context, p *Payload) error {
	d := e.timeouts.For(StageFailHandler)
	if d <= 0 {
		d = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d)
	defer cancel()
	return retry.Run(ctx, e.retry, nil, func(ctx context.Context) error {
		return e.fail.Handle(ctx, p)
	})
}
