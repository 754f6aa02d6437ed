package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/ragready/internal/config"
	"github.com/markdave123-py/ragready/internal/events"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/observability"
	"github.com/markdave123-py/ragready/internal/pipeline"
	"github.com/markdave123-py/ragready/internal/temporalx"
)

// execution is a started runner plus whatever must run for it to make
// progress: local workers, or the Temporal worker polling the queue.
type execution struct {
	runner pipeline.Runner
	serve  func(ctx context.Context) error
	close  func()
}

// newExecution picks the runner named by RUNNER. With pollTemporal false the
// process only starts workflows and leaves executing them to the worker.
func newExecution(ctx context.Context, c *Components, p *Pipeline, pollTemporal bool) (*execution, error) {
	switch c.Cfg.Runner {
	case "temporal":
		tc, err := temporalx.NewClient(ctx, temporalx.ConfigFrom(c.Cfg), c.Log)
		if err != nil {
			return nil, err
		}
		ex := &execution{
			runner: temporalx.NewStarter(tc, c.Cfg.TemporalQueue, p.Timeouts, p.Retry),
			serve:  func(ctx context.Context) error { <-ctx.Done(); return nil },
			close:  tc.Close,
		}
		if pollTemporal {
			acts := &temporalx.Activities{Runtime: p.Runtime, Fail: p.Fail}
			ex.serve = func(ctx context.Context) error {
				return temporalx.RunWorker(ctx, tc, c.Cfg.TemporalQueue, c.Cfg.WorkerCount, acts, c.Log)
			}
		}
		return ex, nil

	case "local", "":
		lr := pipeline.NewLocalRunner(p.Executor, c.Log)
		return &execution{
			runner: lr,
			serve: func(ctx context.Context) error {
				lr.Serve(ctx, c.Cfg.WorkerCount)
				<-ctx.Done()
				lr.Wait()
				return nil
			},
			close: func() {},
		}, nil
	}
	return nil, fmt.Errorf("RUNNER %q is not supported", c.Cfg.Runner)
}

// Worker consumes upload events and executes ingestion jobs.
type Worker struct {
	comps    *Components
	pipeline *Pipeline
	exec     *execution
	consumer *events.SQSConsumer
	shutdown func(context.Context) error
}

func NewWorker(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Worker, error) {
	shutdown := observability.Init(ctx, log, observability.ConfigFrom(cfg, "worker"))

	comps, err := Build(ctx, cfg, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	p, err := NewPipeline(comps)
	if err != nil {
		comps.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	exec, err := newExecution(ctx, comps, p, true)
	if err != nil {
		comps.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	p.AttachRunner(comps, exec.runner)

	w := &Worker{comps: comps, pipeline: p, exec: exec, shutdown: shutdown}
	if cfg.SQSQueueURL != "" {
		w.consumer = events.NewSQSConsumer(sqs.NewFromConfig(comps.AWS), cfg.SQSQueueURL, p.Dispatcher, log)
	} else {
		log.Warn("SQS_QUEUE_URL not set; upload events are not consumed by this worker")
	}
	return w, nil
}

// Run blocks until ctx is done or a component fails.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.exec.serve(gctx) })
	if w.consumer != nil {
		g.Go(func() error { return w.consumer.Run(gctx) })
	}
	w.comps.Log.Info("worker running", "runner", w.comps.Cfg.Runner, "workers", w.comps.Cfg.WorkerCount)
	return g.Wait()
}

func (w *Worker) Close(ctx context.Context) {
	w.exec.close()
	w.comps.Close()
	if err := w.shutdown(ctx); err != nil {
		w.comps.Log.Warn("otel shutdown failed", "error", err)
	}
}
