package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	metricstest "github.com/tsylvester/paynless-framework-sub003/internal/metrics/testutil"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	notifytest "github.com/tsylvester/paynless-framework-sub003/internal/notify/testutil"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/internal/testutil"
)

func setup(t *testing.T) (*store.Store, *notifytest.Recorder, *Service) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	s := store.New(db)
	rec := &notifytest.Recorder{}
	return s, rec, New(s, rec)
}

func TestRetryJobMarksRetrying(t *testing.T) {
	ctx := context.Background()
	s, rec, svc := setup(t)

	seeded := testutil.SeedJob(t, s.DB(), testutil.JobInput{
		UserID:     "u1",
		JobType:    models.JobTypeExecute,
		Status:     models.JobStatusProcessing,
		Payload:    testutil.ExecutePayload("m1", "draft"),
		MaxRetries: 3,
	})
	require.NoError(t, s.DB().Model(&models.Job{}).Where("id = ?", seeded.ID).Update("claimed_by", "node-a").Error)

	before := metricstest.CounterValue(t, metrics.RetriesTotal, "retrying")
	err := svc.RetryJob(ctx, *seeded, FailedAttempt{ModelID: "m1", Attempt: 1, Error: "timeout"})
	require.NoError(t, err)
	require.Equal(t, before+1, metricstest.CounterValue(t, metrics.RetriesTotal, "retrying"))

	got, err := s.GetJob(ctx, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusRetrying, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.Empty(t, got.ClaimedBy)
	require.Nil(t, got.ClaimExpiresAt)

	var details struct {
		FailedAttempts []FailedAttempt `json:"failedAttempts"`
	}
	require.NoError(t, json.Unmarshal(got.ErrorDetails, &details))
	require.Len(t, details.FailedAttempts, 1)
	require.Equal(t, "timeout", details.FailedAttempts[0].Error)

	sent := rec.OfType(notify.TypeGenerationRetrying)
	require.Len(t, sent, 1)
	require.Equal(t, "u1", sent[0].TargetUserID)
	require.False(t, sent[0].IsInternalEvent)
	data, ok := sent[0].Data.(notify.RetryingData)
	require.True(t, ok)
	require.Equal(t, 1, data.Attempt)
	require.Equal(t, 3, data.MaxRetries)
	require.Equal(t, "timeout", data.LastFailure)
}

func TestRetryJobExhausted(t *testing.T) {
	ctx := context.Background()
	s, rec, svc := setup(t)

	seeded := testutil.SeedJob(t, s.DB(), testutil.JobInput{
		UserID:     "u1",
		JobType:    models.JobTypeExecute,
		Status:     models.JobStatusProcessing,
		Payload:    testutil.ExecutePayload("m1", "draft"),
		MaxRetries: 1,
	})
	require.NoError(t, s.DB().Model(&models.Job{}).Where("id = ?", seeded.ID).Update("attempt_count", 1).Error)
	seeded.AttemptCount = 1

	err := svc.RetryJob(ctx, *seeded)
	require.ErrorIs(t, err, ErrRetriesExhausted)

	got, err := s.GetJob(ctx, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusProcessing, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.Empty(t, rec.Sent())
}

func TestRetryJobWithoutUserSkipsNotification(t *testing.T) {
	s, rec, svc := setup(t)

	seeded := testutil.SeedJob(t, s.DB(), testutil.JobInput{
		JobType:    models.JobTypeExecute,
		Payload:    testutil.ExecutePayload("m1", "draft"),
		MaxRetries: 2,
	})

	require.NoError(t, svc.RetryJob(context.Background(), *seeded))
	require.Empty(t, rec.Sent())
}

func TestRetryJobUnknownRow(t *testing.T) {
	_, _, svc := setup(t)

	err := svc.RetryJob(context.Background(), models.Job{ID: uuid.New(), MaxRetries: 3})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRetriesExhausted))
}

func decodeExecute(t *testing.T, raw []byte) *job.ExecutePayload {
	t.Helper()
	p, err := job.DecodePayload(models.JobTypeExecute, raw)
	require.NoError(t, err)
	exec, ok := p.(*job.ExecutePayload)
	require.True(t, ok)
	return exec
}

func TestContinueJobEnqueuesContinuation(t *testing.T) {
	ctx := context.Background()
	s, _, svc := setup(t)

	parent := uuid.New()
	seeded := testutil.SeedJob(t, s.DB(), testutil.JobInput{
		UserID:      "u1",
		JobType:     models.JobTypeExecute,
		Status:      models.JobStatusProcessing,
		Payload:     testutil.ExecutePayload("m1", "draft"),
		MaxRetries:  3,
		ParentJobID: &parent,
	})
	payload := decodeExecute(t, seeded.Payload)

	enqueued, err := svc.ContinueJob(ctx, *seeded, payload, "contrib-1")
	require.NoError(t, err)
	require.True(t, enqueued)

	pending, err := s.SelectJobs(ctx, store.Filter{Statuses: []models.JobStatus{models.JobStatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	child := pending[0]
	require.NotEqual(t, seeded.ID, child.ID)
	require.Equal(t, models.JobTypeExecute, child.JobType)
	require.Equal(t, "u1", child.UserID)
	require.Equal(t, &parent, child.ParentJobID)
	require.NotNil(t, child.TargetContributionID)
	require.Equal(t, "contrib-1", *child.TargetContributionID)

	continued := decodeExecute(t, child.Payload)
	require.Equal(t, 1, continued.ContinuationCount)
	require.Equal(t, "contrib-1", continued.TargetContributionID)
	require.Equal(t, "draft", continued.OutputType)
	require.Zero(t, payload.ContinuationCount)
}

func TestContinueJobKeepsRootContribution(t *testing.T) {
	ctx := context.Background()
	s, _, svc := setup(t)

	raw := testutil.ExecutePayload("m1", "draft")
	raw["continuation_count"] = 2
	raw["target_contribution_id"] = "root-1"
	seeded := testutil.SeedJob(t, s.DB(), testutil.JobInput{
		JobType:    models.JobTypeExecute,
		Payload:    raw,
		MaxRetries: 3,
	})

	enqueued, err := svc.ContinueJob(ctx, *seeded, decodeExecute(t, seeded.Payload), "chunk-3")
	require.NoError(t, err)
	require.True(t, enqueued)

	jobs, err := s.SelectJobs(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	continued := decodeExecute(t, jobs[1].Payload)
	require.Equal(t, 3, continued.ContinuationCount)
	require.Equal(t, "root-1", continued.TargetContributionID)
}

func TestContinueJobStopsAtLimit(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })
	s := store.New(db)
	svc := New(s, notify.Discard, WithContinuationLimit(2))

	raw := testutil.ExecutePayload("m1", "draft")
	raw["continuation_count"] = 2
	seeded := testutil.SeedJob(t, db, testutil.JobInput{
		JobType:    models.JobTypeExecute,
		Payload:    raw,
		MaxRetries: 3,
	})

	enqueued, err := svc.ContinueJob(ctx, *seeded, decodeExecute(t, seeded.Payload), "contrib-1")
	require.NoError(t, err)
	require.False(t, enqueued)
	testutil.AssertCount(t, db, &models.Job{}, 1)
}

func TestContinueJobRequiresContribution(t *testing.T) {
	_, _, svc := setup(t)

	_, err := svc.ContinueJob(context.Background(), models.Job{}, &job.ExecutePayload{}, " ")
	require.Error(t, err)
	_, err = svc.ContinueJob(context.Background(), models.Job{}, nil, "contrib-1")
	require.Error(t, err)
}
