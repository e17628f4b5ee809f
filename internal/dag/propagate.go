package dag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// Propagator moves jobs that depend on a finished job. Dependents waiting
// on a prerequisite are released or failed with it, and a parent waiting
// for children settles once every child is terminal.
type Propagator struct {
	store    store.JobStore
	notifier notify.Emitter
}

func New(jobs store.JobStore, notifier notify.Emitter) *Propagator {
	if jobs == nil {
		panic("dag propagator requires a job store")
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Propagator{store: jobs, notifier: notifier}
}

// AfterJob propagates the current status of job id. A parent still waiting
// for children is settled here too, since its children may all have
// finished before it left processing.
func (p *Propagator) AfterJob(ctx context.Context, id uuid.UUID) error {
	j, err := p.store.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("load job %s: %w", id, err)
	}

	switch j.Status {
	case models.JobStatusCompleted:
		if err := p.releaseDependents(ctx, j); err != nil {
			return err
		}
	case models.JobStatusFailed:
		if err := p.failDependents(ctx, j); err != nil {
			return err
		}
	case models.JobStatusWaitingForChildren:
		if err := p.reconcileChildren(ctx, j.ID); err != nil {
			return err
		}
		return p.settleParent(ctx, j.ID)
	default:
		return nil
	}

	if j.ParentJobID != nil {
		return p.settleParent(ctx, *j.ParentJobID)
	}
	return nil
}

// reconcileChildren catches children enqueued behind a prerequisite that
// finished before they were inserted. Its own AfterJob found no dependents
// then, so nothing else would move them.
func (p *Propagator) reconcileChildren(ctx context.Context, parentID uuid.UUID) error {
	id := parentID
	waiting, err := p.store.SelectJobs(ctx, store.Filter{
		ParentJobID: &id,
		Statuses:    []models.JobStatus{models.JobStatusWaitingForPrerequisite},
	})
	if err != nil {
		return fmt.Errorf("select waiting children of %s: %w", parentID, err)
	}

	seen := map[uuid.UUID]struct{}{}
	for _, child := range waiting {
		if child.PrerequisiteJobID == nil {
			continue
		}
		prereqID := *child.PrerequisiteJobID
		if _, ok := seen[prereqID]; ok {
			continue
		}
		seen[prereqID] = struct{}{}

		prereq, err := p.store.GetJob(ctx, prereqID)
		if err != nil {
			return fmt.Errorf("load prerequisite %s: %w", prereqID, err)
		}
		switch prereq.Status {
		case models.JobStatusCompleted:
			err = p.releaseDependents(ctx, prereq)
		case models.JobStatusFailed:
			err = p.failDependents(ctx, prereq)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Propagator) dependents(ctx context.Context, id uuid.UUID) (models.Jobs, error) {
	prerequisite := id
	jobs, err := p.store.SelectJobs(ctx, store.Filter{
		PrerequisiteJobID: &prerequisite,
		Statuses:          []models.JobStatus{models.JobStatusWaitingForPrerequisite},
	})
	if err != nil {
		return nil, fmt.Errorf("select dependents of %s: %w", id, err)
	}
	return jobs, nil
}

func (p *Propagator) releaseDependents(ctx context.Context, j *models.Job) error {
	waiting, err := p.dependents(ctx, j.ID)
	if err != nil {
		return err
	}

	pending := models.JobStatusPending
	from := models.JobStatusWaitingForPrerequisite
	for _, dep := range waiting {
		err := p.store.UpdateJob(ctx, dep.ID, store.Update{Status: &pending, IfStatus: &from})
		if errors.Is(err, store.ErrStatusChanged) {
			continue
		}
		if err != nil {
			return fmt.Errorf("release dependent %s: %w", dep.ID, err)
		}
		metrics.DependentsReleasedTotal.WithLabelValues(string(pending)).Inc()
		log.Info("released dependent job", "job_id", dep.ID, "prerequisite_job_id", j.ID)
	}
	return nil
}

func (p *Propagator) failDependents(ctx context.Context, j *models.Job) error {
	waiting, err := p.dependents(ctx, j.ID)
	if err != nil {
		return err
	}

	for _, dep := range waiting {
		message := fmt.Sprintf("Prerequisite job %s failed.", j.ID)
		err := p.failJob(ctx, dep, models.JobStatusWaitingForPrerequisite, message)
		if errors.Is(err, store.ErrStatusChanged) {
			continue
		}
		if err != nil {
			return err
		}
		log.Warn("failed dependent job", "job_id", dep.ID, "prerequisite_job_id", j.ID)

		if dep.UserID != "" {
			notify.Deliver(ctx, p.notifier, notify.Notification{
				TargetUserID: dep.UserID,
				Type:         notify.TypeGenerationFailed,
				Data: notify.FailureData{
					JobID:     dep.ID,
					SessionID: dep.SessionID,
					StageSlug: dep.StageSlug,
					Error:     notify.ErrorInfo{Code: notify.CodePrerequisiteFailure, Message: message},
				},
			})
		}

		// the dependent may itself be a prerequisite or the last child
		if err := p.AfterJob(ctx, dep.ID); err != nil {
			return err
		}
	}
	return nil
}

// failJob fails j provided it is still in status from.
func (p *Propagator) failJob(ctx context.Context, j *models.Job, from models.JobStatus, message string) error {
	details, err := json.Marshal(map[string]any{
		"message": message,
		"code":    notify.CodePrerequisiteFailure,
	})
	if err != nil {
		return err
	}

	failed := models.JobStatusFailed
	now := time.Now().UTC()
	if err := p.store.UpdateJob(ctx, j.ID, store.Update{
		Status:       &failed,
		CompletedAt:  &now,
		ErrorDetails: details,
		ClearClaim:   true,
		IfStatus:     &from,
	}); err != nil {
		return fmt.Errorf("fail dependent %s: %w", j.ID, err)
	}
	metrics.DependentsReleasedTotal.WithLabelValues(string(failed)).Inc()
	return nil
}

// settleParent completes or fails a parent once none of its children are
// in progress.
func (p *Propagator) settleParent(ctx context.Context, parentID uuid.UUID) error {
	parent, err := p.store.GetJob(ctx, parentID)
	if err != nil {
		return fmt.Errorf("load parent %s: %w", parentID, err)
	}
	if parent.Status != models.JobStatusWaitingForChildren {
		return nil
	}

	id := parentID
	children, err := p.store.SelectJobs(ctx, store.Filter{ParentJobID: &id})
	if err != nil {
		return fmt.Errorf("select children of %s: %w", parentID, err)
	}

	var failedChild *models.Job
	for _, child := range children {
		if !child.Status.Terminal() {
			return nil
		}
		if child.Status == models.JobStatusFailed && failedChild == nil {
			failedChild = child
		}
	}

	waiting := models.JobStatusWaitingForChildren
	if failedChild != nil {
		err = p.failJob(ctx, parent, waiting, fmt.Sprintf("Child job %s failed.", failedChild.ID))
	} else {
		completed := models.JobStatusCompleted
		now := time.Now().UTC()
		err = p.store.UpdateJob(ctx, parent.ID, store.Update{
			Status:      &completed,
			CompletedAt: &now,
			ClearClaim:  true,
			IfStatus:    &waiting,
		})
	}
	if errors.Is(err, store.ErrStatusChanged) {
		// a sibling settled it first
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle parent %s: %w", parent.ID, err)
	}

	if failedChild != nil {
		log.Warn("parent job failed with child", "job_id", parent.ID, "child_job_id", failedChild.ID)
	} else {
		metrics.DependentsReleasedTotal.WithLabelValues(string(models.JobStatusCompleted)).Inc()
		log.Info("parent job completed", "job_id", parent.ID, "children", len(children))
	}

	return p.AfterJob(ctx, parent.ID)
}
