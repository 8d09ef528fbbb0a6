// ABOUTME: Worker pools pulling jobs off their queue and running the matching transform
// ABOUTME: Transient failures requeue up to a per-kind ceiling, permanent ones fail immediately

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/voxrelay/voxrelay/internal/backend"
	"github.com/voxrelay/voxrelay/internal/job"
	"github.com/voxrelay/voxrelay/internal/queue"
)

// Broker is what the pool needs from the queue layer.
type Broker interface {
	Dequeue(ctx context.Context, class job.Class) (*job.Job, error)
	Ack(ctx context.Context, j *job.Job, result []byte) error
	Fail(ctx context.Context, j *job.Job, reason string) error
	Requeue(ctx context.Context, j *job.Job, reason string) error
}

// ResultHandler receives every terminal job, done or failed. Only terminal
// outcomes surface here; retries stay inside the pool.
type ResultHandler interface {
	OnResult(ctx context.Context, j *job.Job)
}

// Pool runs a fixed number of workers against one queue. The gpu pool is
// sized to the available GPU execution slots, which is what enforces mutual
// exclusion over the GPU.
type Pool struct {
	class        job.Class
	concurrency  int
	broker       Broker
	executor     *Executor
	results      ResultHandler
	retryCeiling map[job.Kind]int
	logger       *slog.Logger
	wg           sync.WaitGroup
}

// NewPool creates a pool for the given queue. retryCeiling caps transient
// retries per job kind; kinds absent from the map get no retries.
func NewPool(class job.Class, concurrency int, broker Broker, executor *Executor, results ResultHandler, retryCeiling map[job.Kind]int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		class:        class,
		concurrency:  concurrency,
		broker:       broker,
		executor:     executor,
		results:      results,
		retryCeiling: retryCeiling,
		logger:       slog.Default().With("component", "worker", "queue", class),
	}
}

// Start launches the workers. They exit when ctx is cancelled or the broker
// shuts down; Wait blocks until all have returned.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool starting", "concurrency", p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)

	for {
		j, err := p.broker.Dequeue(ctx, p.class)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
				logger.Error("dequeue failed", "error", err)
			}
			return
		}
		p.handle(ctx, logger, j)
	}
}

// handle runs one job to a local outcome: ack, requeue or fail.
func (p *Pool) handle(ctx context.Context, logger *slog.Logger, j *job.Job) {
	logger.Debug("executing job", "job_id", j.ID, "kind", j.Kind, "retry_count", j.RetryCount)

	result, err := p.executor.Execute(ctx, j)
	if err == nil {
		if err := p.broker.Ack(ctx, j, result); err != nil {
			logger.Error("ack failed", "job_id", j.ID, "error", err)
			return
		}
		if j.Status.Terminal() {
			p.results.OnResult(ctx, j)
		}
		return
	}

	if errors.Is(err, backend.ErrTransient) && j.RetryCount < p.ceiling(j.Kind) {
		logger.Warn("transient failure, requeuing",
			"job_id", j.ID, "kind", j.Kind, "retry_count", j.RetryCount, "error", err)
		if rqErr := p.broker.Requeue(ctx, j, err.Error()); rqErr != nil {
			logger.Error("requeue failed", "job_id", j.ID, "error", rqErr)
		}
		return
	}

	// Permanent failure or retry ceiling exhausted: single terminal
	// transition, then hand off for the user-visible failure notice.
	logger.Error("job failed",
		"job_id", j.ID, "kind", j.Kind, "retry_count", j.RetryCount, "error", err)
	if failErr := p.broker.Fail(ctx, j, err.Error()); failErr != nil {
		logger.Error("marking failed failed", "job_id", j.ID, "error", failErr)
		return
	}
	if j.Status.Terminal() {
		p.results.OnResult(ctx, j)
	}
}

func (p *Pool) ceiling(kind job.Kind) int {
	return p.retryCeiling[kind]
}
