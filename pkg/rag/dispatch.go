package rag

import (
	"context"
	"fmt"

	"personaai/pkg/domain"
	"personaai/pkg/queue"
)

// Dispatcher schedules a pending job for background processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.IndexingJob) error
}

// inProcessDispatcher runs each job on a detached goroutine.
type inProcessDispatcher struct {
	ix *Indexer
}

func (d inProcessDispatcher) Dispatch(ctx context.Context, job domain.IndexingJob) error {
	runCtx := context.WithoutCancel(ctx)
	d.ix.wg.Add(1)
	go func() {
		defer d.ix.wg.Done()
		if err := d.ix.RunJob(runCtx, job.ID); err != nil {
			d.ix.logger.Error("indexing job aborted", "job_id", job.ID, "profile_id", job.ProfileID, "err", err)
		}
	}()
	return nil
}

// Enqueuer is implemented by *queue.RedisJobQueue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// QueueDispatcher hands jobs to a shared work queue so any worker process
// can run them.
type QueueDispatcher struct {
	q Enqueuer
}

// NewQueueDispatcher wraps q.
func NewQueueDispatcher(q Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{q: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job domain.IndexingJob) error {
	if err := d.q.Enqueue(ctx, queue.Task{JobID: job.ID, ProfileID: job.ProfileID}); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// HandleTask runs a job delivered by the queue. It matches queue.Handler.
func (ix *Indexer) HandleTask(ctx context.Context, task queue.Task) error {
	return ix.RunJob(ctx, task.JobID)
}
