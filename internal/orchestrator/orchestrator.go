package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	"github.com/tsylvester/paynless-framework-sub003/internal/processor"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

const missingUserMessage = "Job is missing a user_id."

// Orchestrator drives one claimed job from validation to its final status.
type Orchestrator struct {
	store      store.Updater
	notifier   notify.Emitter
	dispatcher *processor.Dispatcher
	deps       processor.Deps
	now        func() time.Time
}

type Option func(*Orchestrator)

// WithClock overrides the time source used for started_at and completed_at.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New returns an orchestrator. A nil dispatcher uses the default processor
// for every kind; processors without a notifier share the orchestrator's.
func New(updater store.Updater, notifier notify.Emitter, dispatcher *processor.Dispatcher, deps processor.Deps, opts ...Option) *Orchestrator {
	if updater == nil {
		panic("orchestrator requires a job updater")
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	if dispatcher == nil {
		dispatcher = processor.NewDispatcher()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier
	}

	o := &Orchestrator{
		store:      updater,
		notifier:   notifier,
		dispatcher: dispatcher,
		deps:       deps,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleJob validates the claimed job, dispatches it by payload kind and
// persists the outcome. It never returns an error: the final state of the
// job lives in the store and failures are reported through notifications.
func (o *Orchestrator) HandleJob(ctx context.Context, claimed *job.Claimed, authToken string, overrides ...processor.Override) {
	if claimed == nil {
		log.Error("handle job called without a claim")
		return
	}
	j := claimed.Job()
	start := o.now()
	jl := log.With("job_id", j.ID, "job_type", j.JobType)

	metrics.JobsActive.WithLabelValues(string(j.JobType)).Inc()
	defer metrics.JobsActive.WithLabelValues(string(j.JobType)).Dec()

	if strings.TrimSpace(j.UserID) == "" {
		jl.Error("job is missing a user id")
		o.fail(ctx, j, map[string]any{"message": missingUserMessage}, start)
		return
	}

	payload, err := job.DecodePayload(j.JobType, j.Payload)
	if err != nil {
		reason := err.Error()
		jl.Error("job payload failed validation", "reason", reason)
		o.fail(ctx, j, map[string]any{"message": "Invalid payload: " + reason}, start)
		o.notifyFailure(ctx, j, notify.CodeValidation, reason)
		return
	}

	status := models.JobStatusProcessing
	startedAt := o.now()
	if err := o.store.UpdateJob(ctx, j.ID, store.Update{Status: &status, StartedAt: &startedAt}); err != nil {
		jl.Error("failed to mark job processing", "error", err)
	}
	j.Status = status
	j.StartedAt = &startedAt

	notify.Deliver(ctx, o.notifier, notify.Notification{
		TargetUserID: j.UserID,
		Type:         notify.TypeGenerationStarted,
		Data:         notify.StartedData{JobID: j.ID, SessionID: j.SessionID},
	})

	jl.Info("dispatching job", "kind", payload.Kind(), "attempt", j.AttemptCount)

	res, err := o.dispatch(ctx, processor.Request{
		Job:       j,
		Payload:   payload,
		AuthToken: authToken,
		Deps:      o.deps,
	}, overrides)
	if err != nil {
		code := processor.CodeOf(err)
		jl.Error("job processing failed", "code", code, "error", err)
		o.fail(ctx, j, map[string]any{"final_error": err.Error(), "code": code}, start)
		o.notifyFailure(ctx, j, code, err.Error())
		return
	}

	o.finish(ctx, j, res, start)
}

// dispatch runs the processor, converting a panic into an error.
func (o *Orchestrator) dispatch(ctx context.Context, req processor.Request, overrides []processor.Override) (res processor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("processor panicked", "job_id", req.Job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return o.dispatcher.Dispatch(ctx, req, overrides...)
}

func (o *Orchestrator) finish(ctx context.Context, j models.Job, res processor.Result, start time.Time) {
	status := res.Status
	if status == "" {
		status = models.JobStatusCompleted
	}

	update := store.Update{Status: &status, ClearClaim: true}
	if res.Results != nil {
		raw, err := json.Marshal(res.Results)
		if err != nil {
			log.Error("failed to encode job results", "job_id", j.ID, "error", err)
		} else {
			update.Results = raw
		}
	}
	if status.Terminal() {
		completedAt := o.now()
		update.CompletedAt = &completedAt
	}

	if err := o.store.UpdateJob(ctx, j.ID, update); err != nil {
		log.Error("CRITICAL: failed to persist job result", "job_id", j.ID, "status", status, "error", err)
	}
	o.observe(j, status, start)
	log.Info("job handled", "job_id", j.ID, "job_type", j.JobType, "status", status)
}

func (o *Orchestrator) fail(ctx context.Context, j models.Job, details map[string]any, start time.Time) {
	status := models.JobStatusFailed
	completedAt := o.now()
	update := store.Update{Status: &status, CompletedAt: &completedAt, ClearClaim: true}

	raw, err := json.Marshal(details)
	if err != nil {
		log.Error("failed to encode job error details", "job_id", j.ID, "error", err)
	} else {
		update.ErrorDetails = raw
	}

	if err := o.store.UpdateJob(ctx, j.ID, update); err != nil {
		log.Error("CRITICAL: failed to persist job failure", "job_id", j.ID, "error", err)
	}
	o.observe(j, status, start)
}

// notifyFailure sends the internal diagnostic event followed by the
// user-facing failure for the same job.
func (o *Orchestrator) notifyFailure(ctx context.Context, j models.Job, code, message string) {
	data := notify.FailureData{
		JobID:     j.ID,
		SessionID: j.SessionID,
		StageSlug: j.StageSlug,
		Error:     notify.ErrorInfo{Code: code, Message: message},
	}

	notify.Deliver(ctx, o.notifier, notify.Notification{
		TargetUserID:    j.UserID,
		Type:            notify.TypeOtherFailed,
		Data:            data,
		IsInternalEvent: true,
	})
	notify.Deliver(ctx, o.notifier, notify.Notification{
		TargetUserID: j.UserID,
		Type:         notify.TypeGenerationFailed,
		Data:         data,
	})
}

func (o *Orchestrator) observe(j models.Job, status models.JobStatus, start time.Time) {
	metrics.JobsHandledTotal.WithLabelValues(string(j.JobType), string(status)).Inc()
	metrics.JobDurationSeconds.WithLabelValues(string(j.JobType), string(status)).Observe(o.now().Sub(start).Seconds())
}
