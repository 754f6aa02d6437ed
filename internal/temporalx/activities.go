package temporalx

import (
	"context"

	"go.temporal.io/sdk/temporal"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/pipeline"
)

// Activities adapts the pipeline runtime to Temporal activities.
type Activities struct {
	Runtime *pipeline.Runtime
	Fail    *pipeline.FailHandler
}

// RunStage runs one stage and returns the updated payload. Errors that
// cannot succeed on retry are marked non-retryable so Temporal goes straight
// to the fail branch.
func (a *Activities) RunStage(ctx context.Context, stage pipeline.Stage, p pipeline.Payload) (pipeline.Payload, error) {
	if err := a.Runtime.Run(ctx, stage, &p); err != nil {
		return p, toApplicationError(err)
	}
	return p, nil
}

func (a *Activities) FailJob(ctx context.Context, p pipeline.Payload) error {
	if err := a.Fail.Handle(ctx, &p); err != nil {
		return toApplicationError(err)
	}
	return nil
}

func toApplicationError(err error) error {
	kind := string(apperr.KindOf(err))
	if apperr.Retryable(err) {
		return temporal.NewApplicationErrorWithCause(err.Error(), kind, err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}
