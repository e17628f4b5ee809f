package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// DefaultContinuationLimit bounds how many times one document may be
// continued after a truncated model response.
const DefaultContinuationLimit = 5

// ErrRetriesExhausted is returned by RetryJob when attempt_count would
// exceed max_retries. The caller must fail the job instead.
var ErrRetriesExhausted = errors.New("retries exhausted")

// FailedAttempt records why one attempt failed.
type FailedAttempt struct {
	ModelID string `json:"modelId"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

// Jobs is the store surface retry and continuation need.
type Jobs interface {
	store.Updater
	store.Inserter
}

type Service struct {
	jobs              Jobs
	notifier          notify.Emitter
	continuationLimit int
}

type Option func(*Service)

// WithContinuationLimit overrides DefaultContinuationLimit.
func WithContinuationLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.continuationLimit = limit
		}
	}
}

func New(jobs Jobs, notifier notify.Emitter, opts ...Option) *Service {
	if jobs == nil {
		panic("retry service requires a job store")
	}
	s := &Service{
		jobs:              jobs,
		notifier:          notifier,
		continuationLimit: DefaultContinuationLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetryJob re-enqueues j with attempt_count+1 and status retrying.
func (s *Service) RetryJob(ctx context.Context, j models.Job, failed ...FailedAttempt) error {
	next := j.AttemptCount + 1
	if next > j.MaxRetries {
		metrics.RetriesTotal.WithLabelValues("exhausted").Inc()
		log.Warn("retries exhausted", "job_id", j.ID, "attempt_count", j.AttemptCount, "max_retries", j.MaxRetries)
		return fmt.Errorf("job %s after %d attempts: %w", j.ID, j.AttemptCount+1, ErrRetriesExhausted)
	}

	details, err := json.Marshal(map[string]any{
		"failedAttempts": failed,
		"attempt":        next,
	})
	if err != nil {
		return fmt.Errorf("encode failed attempts: %w", err)
	}

	status := models.JobStatusRetrying
	if err := s.jobs.UpdateJob(ctx, j.ID, store.Update{
		Status:       &status,
		AttemptCount: &next,
		ErrorDetails: details,
		ClearClaim:   true,
	}); err != nil {
		return fmt.Errorf("mark job %s retrying: %w", j.ID, err)
	}

	metrics.RetriesTotal.WithLabelValues("retrying").Inc()
	log.Info("job scheduled for retry", "job_id", j.ID, "attempt", next, "max_retries", j.MaxRetries)

	if strings.TrimSpace(j.UserID) != "" {
		last := ""
		if len(failed) > 0 {
			last = failed[len(failed)-1].Error
		}
		notify.Deliver(ctx, s.notifier, notify.Notification{
			TargetUserID: j.UserID,
			Type:         notify.TypeGenerationRetrying,
			Data: notify.RetryingData{
				JobID:       j.ID,
				SessionID:   j.SessionID,
				Attempt:     next,
				MaxRetries:  j.MaxRetries,
				LastFailure: last,
			},
		})
	}
	return nil
}

// ContinueJob enqueues a new EXECUTE job that resumes the document rooted
// at the job's target contribution, or at contributionID when the job is
// not itself a continuation. It reports false without error once the
// continuation limit is reached.
func (s *Service) ContinueJob(ctx context.Context, j models.Job, payload *job.ExecutePayload, contributionID string) (bool, error) {
	if payload == nil {
		return false, errors.New("continue job: payload is required")
	}
	if strings.TrimSpace(contributionID) == "" {
		return false, errors.New("continue job: contribution id is required")
	}

	next := payload.ContinuationCount + 1
	if next > s.continuationLimit {
		metrics.ContinuationsTotal.WithLabelValues("limit_reached").Inc()
		log.Warn("continuation limit reached", "job_id", j.ID, "continuation_count", payload.ContinuationCount, "limit", s.continuationLimit)
		return false, nil
	}

	root := strings.TrimSpace(payload.TargetContributionID)
	if root == "" {
		root = contributionID
	}

	continued := *payload
	continued.ContinuationCount = next
	continued.TargetContributionID = root

	raw, err := job.Encode(&continued)
	if err != nil {
		return false, fmt.Errorf("encode continuation payload: %w", err)
	}

	child := &models.Job{
		UserID:               j.UserID,
		SessionID:            j.SessionID,
		StageSlug:            j.StageSlug,
		IterationNumber:      j.IterationNumber,
		JobType:              models.JobTypeExecute,
		Payload:              raw,
		Status:               models.JobStatusPending,
		MaxRetries:           j.MaxRetries,
		ParentJobID:          j.ParentJobID,
		TargetContributionID: &root,
	}
	if err := s.jobs.InsertJobs(ctx, child); err != nil {
		metrics.ContinuationsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("enqueue continuation of %s: %w", j.ID, err)
	}

	metrics.ContinuationsTotal.WithLabelValues("enqueued").Inc()
	log.Info("continuation enqueued", "job_id", j.ID, "continuation_job_id", child.ID, "continuation_count", next)
	return true, nil
}
