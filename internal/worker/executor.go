package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/processor"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

const (
	defaultLeaseRenewInterval = 1 * time.Second
	minLeaseRenewInterval     = 1 * time.Second
)

type JobHandler interface {
	HandleJob(ctx context.Context, claimed *job.Claimed, authToken string, overrides ...processor.Override)
}

type Propagator interface {
	AfterJob(ctx context.Context, id uuid.UUID) error
}

type LeaseRenewer interface {
	RenewClaim(ctx context.Context, id uuid.UUID, owner string, expiresAt time.Time) error
}

type jobExecutor struct {
	handler    JobHandler
	propagator Propagator
	renewer    LeaseRenewer
	leaseTTL   time.Duration
	authToken  string
}

// NewJobExecutor runs HandleJob for each claim while renewing its lease,
// then propagates the outcome to dependent jobs. propagator and renewer
// may be nil.
func NewJobExecutor(handler JobHandler, propagator Propagator, renewer LeaseRenewer, leaseTTL time.Duration, authToken string) JobExecutor {
	if handler == nil {
		panic("job executor requires a job handler")
	}

	return (&jobExecutor{
		handler:    handler,
		propagator: propagator,
		renewer:    renewer,
		leaseTTL:   leaseTTL,
		authToken:  authToken,
	}).Execute
}

func (e *jobExecutor) Execute(ctx context.Context, claimed *job.Claimed) {
	if claimed == nil {
		return
	}

	// A claimed job runs to completion even when the worker is shutting down.
	runCtx := context.WithoutCancel(ctx)

	leaseCtx, stopLease := context.WithCancel(runCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.keepLease(leaseCtx, claimed)
	}()

	e.handler.HandleJob(runCtx, claimed, e.authToken)

	stopLease()
	<-done

	if e.propagator == nil {
		return
	}
	if err := e.propagator.AfterJob(runCtx, claimed.ID()); err != nil {
		log.Error("failed to propagate job outcome", "job_id", claimed.ID(), "error", err)
	}
}

func (e *jobExecutor) keepLease(ctx context.Context, claimed *job.Claimed) {
	if e.renewer == nil || e.leaseTTL <= 0 {
		return
	}

	ticker := time.NewTicker(leaseRenewInterval(e.leaseTTL))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := time.Now().UTC().Add(e.leaseTTL)
			if err := e.renewer.RenewClaim(ctx, claimed.ID(), claimed.Owner(), next); err != nil && ctx.Err() == nil {
				log.Error("failed to renew job lease", "job_id", claimed.ID(), "error", err)
			}
		}
	}
}

func leaseRenewInterval(leaseTTL time.Duration) time.Duration {
	if leaseTTL <= 0 {
		return defaultLeaseRenewInterval
	}

	interval := leaseTTL / 2
	if interval < minLeaseRenewInterval {
		return minLeaseRenewInterval
	}
	return interval
}
