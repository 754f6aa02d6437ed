package temporalx

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/markdave123-py/ragready/internal/pipeline"
	"github.com/markdave123-py/ragready/internal/retry"
)

const (
	WorkflowName     = "ingest_document"
	ActivityRunStage = "run_stage"
	ActivityFailJob  = "fail_job"
)

// WorkflowID keys executions by job so a job can never run twice at once.
func WorkflowID(jobID string) string { return "ingest-" + jobID }

// WorkflowInput carries the payload and the knobs the workflow needs to
// schedule activities. Timeouts and retry counts live in the input so the
// workflow code stays deterministic.
type WorkflowInput struct {
	Payload  pipeline.Payload  `json:"payload"`
	Timeouts pipeline.Timeouts `json:"timeouts"`
	Retry    retry.Policy      `json:"retry"`
}

func activityOptions(in WorkflowInput, stage pipeline.Stage) workflow.ActivityOptions {
	timeout := in.Timeouts.For(stage)
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	attempts := in.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	initial := in.Retry.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    initial,
			BackoffCoefficient: 2.0,
			MaximumInterval:    in.Retry.MaxBackoff,
			MaximumAttempts:    int32(attempts),
		},
	}
}

// IngestWorkflow walks the same transition table as the in-process
// executor. A stage error sends the payload to the fail activity; the
// workflow then ends with a non-retryable error naming the stage.
//
// The execution bound is a workflow timer. When it fires the running stage
// is cancelled and the job goes through the fail activity like any other
// stage failure, so a slow job never stays RUNNING.
func IngestWorkflow(ctx workflow.Context, in WorkflowInput) (pipeline.Payload, error) {
	log := workflow.GetLogger(ctx)
	p := in.Payload

	stageCtx, stopStages := workflow.WithCancel(ctx)
	defer stopStages()
	expired := false
	if limit := in.Timeouts.Execution; limit > 0 {
		timerCtx, stopTimer := workflow.WithCancel(ctx)
		defer stopTimer()
		deadline := workflow.NewTimer(timerCtx, limit)
		workflow.Go(timerCtx, func(gctx workflow.Context) {
			if err := deadline.Get(gctx, nil); err == nil {
				expired = true
				stopStages()
			}
		})
	}

	cur := pipeline.StageMarkRunning
	for !cur.Terminal() {
		var stageErr error
		if cur == pipeline.StageFailHandler {
			fctx := workflow.WithActivityOptions(ctx, activityOptions(in, cur))
			if err := workflow.ExecuteActivity(fctx, ActivityFailJob, p).Get(ctx, nil); err != nil {
				return p, err
			}
		} else {
			actx := workflow.WithActivityOptions(stageCtx, activityOptions(in, cur))
			var out pipeline.Payload
			stageErr = workflow.ExecuteActivity(actx, ActivityRunStage, cur, p).Get(ctx, &out)
			switch {
			case stageErr == nil:
				p = out
			case expired:
				p.FailedStage = cur
				p.Error = fmt.Sprintf("execution deadline of %s exceeded", in.Timeouts.Execution)
				log.Warn("execution deadline exceeded", "job_id", p.JobID, "stage", string(cur))
			default:
				p.FailedStage = cur
				p.Error = activityMessage(stageErr)
				log.Warn("stage failed", "job_id", p.JobID, "stage", string(cur), "error", p.Error)
			}
		}
		next, err := pipeline.Next(cur, stageErr)
		if err != nil {
			return p, err
		}
		cur = next
	}

	if cur == pipeline.StateFailed {
		return p, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("job failed (stage=%s)", p.FailedStage), "JOB_FAILED", nil)
	}
	return p, nil
}

// activityMessage strips the activity envelope so the job row gets the
// stage's own error text.
func activityMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "deadline exceeded, try again"
	}
	return err.Error()
}
