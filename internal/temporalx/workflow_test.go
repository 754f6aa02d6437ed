package temporalx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/pipeline"
	"github.com/markdave123-py/ragready/internal/retry"
)

type recorder struct {
	mu     sync.Mutex
	stages []pipeline.Stage
	failed *pipeline.Payload
}

func input() WorkflowInput {
	return WorkflowInput{
		Payload:  pipeline.Payload{TenantID: "t1", DatasetID: "d1", FileID: "f1", JobID: "j1"},
		Timeouts: pipeline.DefaultTimeouts(),
		Retry:    retry.Policy{MaxAttempts: 1, InitialBackoff: time.Second, MaxBackoff: time.Second},
	}
}

func newEnv(t *testing.T, rec *recorder, failing pipeline.Stage) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(IngestWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(func(_ context.Context, stage pipeline.Stage, p pipeline.Payload) (pipeline.Payload, error) {
		rec.mu.Lock()
		rec.stages = append(rec.stages, stage)
		rec.mu.Unlock()
		if stage == failing {
			return p, toApplicationError(apperr.Config("embed", "dimension drift"))
		}
		if stage == pipeline.StageChunk {
			p.ChunkCount = 3
		}
		return p, nil
	}, activity.RegisterOptions{Name: ActivityRunStage})
	env.RegisterActivityWithOptions(func(_ context.Context, p pipeline.Payload) error {
		rec.mu.Lock()
		rec.failed = &p
		rec.mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: ActivityFailJob})
	return env
}

func TestIngestWorkflowRunsEveryStage(t *testing.T) {
	rec := &recorder{}
	env := newEnv(t, rec, "")

	env.ExecuteWorkflow(WorkflowName, input())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out pipeline.Payload
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 3, out.ChunkCount)
	assert.Equal(t, pipeline.Stages, rec.stages)
	assert.Nil(t, rec.failed)
}

func TestIngestWorkflowRoutesFailureToFailActivity(t *testing.T) {
	rec := &recorder{}
	env := newEnv(t, rec, pipeline.StageVectorIngest)

	env.ExecuteWorkflow(WorkflowName, input())

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage=VectorIngest")

	assert.Equal(t, pipeline.StageVectorIngest, rec.stages[len(rec.stages)-1])
	require.NotNil(t, rec.failed)
	assert.Equal(t, pipeline.StageVectorIngest, rec.failed.FailedStage)
	assert.Equal(t, "embed: dimension drift", rec.failed.Error)
	assert.Equal(t, 3, rec.failed.ChunkCount)
}

func TestIngestWorkflowFailsJobPastExecutionDeadline(t *testing.T) {
	rec := &recorder{}
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(IngestWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(func(_ context.Context, stage pipeline.Stage, p pipeline.Payload) (pipeline.Payload, error) {
		rec.mu.Lock()
		rec.stages = append(rec.stages, stage)
		rec.mu.Unlock()
		if stage == pipeline.StageExtractText {
			return p, toApplicationError(apperr.Transient("extract", errors.New("tika busy")))
		}
		return p, nil
	}, activity.RegisterOptions{Name: ActivityRunStage})
	env.RegisterActivityWithOptions(func(_ context.Context, p pipeline.Payload) error {
		rec.mu.Lock()
		rec.failed = &p
		rec.mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: ActivityFailJob})

	in := input()
	in.Timeouts.Execution = 30 * time.Minute
	// retries alone would outlive the deadline
	in.Retry = retry.Policy{MaxAttempts: 1000, InitialBackoff: time.Minute, MaxBackoff: time.Minute}

	env.ExecuteWorkflow(WorkflowName, in)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage=ExtractText")

	require.NotNil(t, rec.failed)
	assert.Equal(t, pipeline.StageExtractText, rec.failed.FailedStage)
	assert.Contains(t, rec.failed.Error, "execution deadline of 30m0s exceeded")
	assert.NotContains(t, rec.stages, pipeline.StageChunk)
}

func TestToApplicationErrorMarksNonRetryable(t *testing.T) {
	var appErr *temporal.ApplicationError

	err := toApplicationError(apperr.Config("embed", "bad model"))
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, string(apperr.KindConfig), appErr.Type())

	err = toApplicationError(apperr.Transient("embed", errors.New("throttled")))
	require.True(t, errors.As(err, &appErr))
	assert.False(t, appErr.NonRetryable())
}

type fakeStarter struct {
	opts temporalsdkclient.StartWorkflowOptions
	args []interface{}
	err  error
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, opts temporalsdkclient.StartWorkflowOptions, _ interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error) {
	f.opts = opts
	f.args = args
	return nil, f.err
}

func TestStarterUsesJobScopedWorkflowID(t *testing.T) {
	fs := &fakeStarter{}
	s := NewStarter(fs, "ragready-ingest", pipeline.DefaultTimeouts(), retry.DefaultPolicy())

	require.NoError(t, s.Start(context.Background(), &pipeline.Payload{JobID: "j9"}))

	assert.Equal(t, "ingest-j9", fs.opts.ID)
	assert.Equal(t, "ragready-ingest", fs.opts.TaskQueue)
	assert.True(t, fs.opts.WorkflowExecutionErrorWhenAlreadyStarted)
	assert.Greater(t, fs.opts.WorkflowExecutionTimeout, pipeline.DefaultTimeouts().Execution)
	require.Len(t, fs.args, 1)
	in, ok := fs.args[0].(WorkflowInput)
	require.True(t, ok)
	assert.Equal(t, "j9", in.Payload.JobID)
}

func TestStarterTreatsAlreadyStartedAsSuccess(t *testing.T) {
	fs := &fakeStarter{err: serviceerror.NewWorkflowExecutionAlreadyStarted("running", "", "")}
	s := NewStarter(fs, "q", pipeline.DefaultTimeouts(), retry.DefaultPolicy())
	assert.NoError(t, s.Start(context.Background(), &pipeline.Payload{JobID: "j1"}))

	fs.err = errors.New("frontend unavailable")
	err := s.Start(context.Background(), &pipeline.Payload{JobID: "j1"})
	assert.True(t, apperr.Is(err, apperr.KindTransient))
}
