package temporalx

import (
	"context"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/markdave123-py/ragready/internal/logger"
)

// Register puts the workflow and both activities on a registry. Workers
// and the test environment share it.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(IngestWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.RunStage, activity.RegisterOptions{Name: ActivityRunStage})
	r.RegisterActivityWithOptions(acts.FailJob, activity.RegisterOptions{Name: ActivityFailJob})
}

// RunWorker polls the task queue until ctx is done.
func RunWorker(ctx context.Context, c temporalsdkclient.Client, queue string, concurrency int, acts *Activities, log *logger.Logger) error {
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(c, queue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	Register(w, acts)
	if err := w.Start(); err != nil {
		return err
	}
	log.Info("Temporal worker started", "task_queue", queue, "concurrency", concurrency)
	<-ctx.Done()
	w.Stop()
	log.Info("Temporal worker stopped", "task_queue", queue)
	return nil
}
