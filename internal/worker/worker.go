package worker

import (
	"context"
	"time"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

const defaultPollInterval = 2 * time.Second

type JobClaimer interface {
	ClaimNext(ctx context.Context) (*job.Claimed, error)
}

// JobExecutor drives one claimed job to a stored outcome.
type JobExecutor func(ctx context.Context, claimed *job.Claimed)

type ExpiredReclaimer interface {
	ReclaimExpired(ctx context.Context) error
}

// Worker claims jobs only while its pool has a free slot, so every lease it
// holds belongs to a job that is actually running.
type Worker struct {
	claimer      JobClaimer
	pool         *Pool
	pollInterval time.Duration
	executor     JobExecutor
}

func NewWorker(claimer JobClaimer, pool *Pool, pollInterval time.Duration, executor JobExecutor) *Worker {
	if claimer == nil {
		panic("worker requires job claimer")
	}
	w := &Worker{
		claimer:      claimer,
		pool:         pool,
		pollInterval: pollInterval,
		executor:     executor,
	}
	if w.pool == nil {
		w.pool = NewPool(1)
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.executor == nil {
		w.executor = func(context.Context, *job.Claimed) {}
	}
	return w
}

// Run claims and executes jobs until ctx is done. In-flight jobs are
// waited for before it returns.
func (w *Worker) Run(ctx context.Context) error {
	defer w.pool.Wait()

	for ctx.Err() == nil {
		if !w.pool.Idle() {
			if !pause(ctx, w.pollInterval) {
				break
			}
			continue
		}

		claimed, err := w.claimer.ClaimNext(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("failed to claim next job", "error", err)
		}
		if claimed == nil {
			if !pause(ctx, w.pollInterval) {
				break
			}
			continue
		}

		if err := w.pool.Submit(ctx, func() { w.executor(ctx, claimed) }); err != nil {
			if ctx.Err() == nil {
				return err
			}
			// the lease lapses and the reclaimer returns the job to the queue
			log.Warn("worker stopped holding an unstarted claim", "job_id", claimed.ID())
		}
	}
	return nil
}

// pause waits d and reports false if ctx ended first.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
