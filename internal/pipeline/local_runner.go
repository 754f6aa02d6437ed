package pipeline

import (
	"context"
	"sync"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/logger"
)

// LocalRunner executes payloads on in-process workers fed by a bounded
// queue (64). It is the RUNNER=local path.
type LocalRunner struct {
	exec *Executor
	log  *logger.Logger
	jobs chan *Payload
	wg   sync.WaitGroup
}

func NewLocalRunner(exec *Executor, log *logger.Logger) *LocalRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &LocalRunner{exec: exec, log: log, jobs: make(chan *Payload, 64)}
}

// Serve runs numWorkers goroutines reading from the queue until ctx is done.
func (l *LocalRunner) Serve(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for {
				select {
				case <-ctx.Done():
					l.log.Info("pipeline worker shutting down", "worker", w)
					return
				case p := <-l.jobs:
					l.log.Info("pipeline worker picked up job", "worker", w, "job_id", p.JobID, "file_id", p.FileID)
					state, err := l.exec.Execute(ctx, p)
					if err != nil {
						l.log.Warn("execution ended with error", "job_id", p.JobID, "state", string(state), "error", err)
						continue
					}
					l.log.Info("execution finished", "job_id", p.JobID, "state", string(state))
				}
			}
		}()
	}
}

// Wait blocks until every worker started by Serve has returned.
func (l *LocalRunner) Wait() { l.wg.Wait() }

// Start enqueues p. If the queue is full it blocks until space frees up or
// ctx is done.
func (l *LocalRunner) Start(ctx context.Context, p *Payload) error {
	cp := *p
	select {
	case l.jobs <- &cp:
		return nil
	case <-ctx.Done():
		return apperr.Timeout("enqueue job", ctx.Err())
	}
}

var _ Runner = (*LocalRunner)(nil)
