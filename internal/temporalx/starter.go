package temporalx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/pipeline"
	"github.com/markdave123-py/ragready/internal/retry"
)

const failGrace = 15 * time.Minute

// WorkflowStarter is the slice of the Temporal client the starter uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

// Starter starts one workflow per job. It is the RUNNER=temporal
// pipeline.Runner.
type Starter struct {
	client   WorkflowStarter
	queue    string
	timeouts pipeline.Timeouts
	retry    retry.Policy
}

func NewStarter(c WorkflowStarter, queue string, t pipeline.Timeouts, policy retry.Policy) *Starter {
	return &Starter{client: c, queue: queue, timeouts: t, retry: policy}
}

func (s *Starter) Start(ctx context.Context, p *pipeline.Payload) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                                       WorkflowID(p.JobID),
		TaskQueue:                                s.queue,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	if s.timeouts.Execution > 0 {
		// the workflow enforces Execution itself; this only stops a workflow
		// whose fail branch cannot finish either
		opts.WorkflowExecutionTimeout = s.timeouts.Execution + failGrace
	}
	in := WorkflowInput{Payload: *p, Timeouts: s.timeouts, Retry: s.retry}
	_, err := s.client.ExecuteWorkflow(ctx, opts, WorkflowName, in)
	if err == nil {
		return nil
	}
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return nil
	}
	return apperr.Transient("start workflow", fmt.Errorf("job %s: %w", p.JobID, err))
}

var _ pipeline.Runner = (*Starter)(nil)
