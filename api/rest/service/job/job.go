package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/event"
	jobpayload "github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
	"gorm.io/datatypes"
)

// TypeJobCreated is published on the event bus when a job is submitted.
const TypeJobCreated event.Type = "job_created"

const defaultMaxRetries = 3

type Job interface {
	WithBus(event.Bus) Job
	List(*ListRequest) (models.Jobs, error)
	Get(uuid.UUID) (*models.Job, error)
	Create(*CreateRequest) (*models.Job, error)
}

type jobService struct {
	ctx  context.Context
	jobs store.JobStore
	bus  event.Bus
}

func Service(ctx context.Context, jobs store.JobStore) Job {
	return &jobService{ctx: ctx, jobs: jobs}
}

func (j *jobService) WithBus(bus event.Bus) Job {
	j.bus = bus
	return j
}

type ListRequest struct {
	UserID          string
	SessionID       string
	StageSlug       string
	IterationNumber *int
	JobType         models.JobType
	Statuses        []models.JobStatus
	ParentJobID     *uuid.UUID
	Limit           int
}

func (j *jobService) List(req *ListRequest) (models.Jobs, error) {
	if req.JobType != "" && !req.JobType.Valid() {
		return nil, &jobpayload.ValidationError{Reason: fmt.Sprintf("unknown job_type %q", req.JobType)}
	}

	jobs, err := j.jobs.SelectJobs(j.ctx, store.Filter{
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		StageSlug:       req.StageSlug,
		IterationNumber: req.IterationNumber,
		JobType:         req.JobType,
		Statuses:        req.Statuses,
		ParentJobID:     req.ParentJobID,
		Limit:           req.Limit,
	})
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = models.Jobs{}
	}
	return jobs, nil
}

func (j *jobService) Get(id uuid.UUID) (*models.Job, error) {
	return j.jobs.GetJob(j.ctx, id)
}

type CreateRequest struct {
	UserID     string          `json:"user_id"`
	JobType    models.JobType  `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries *int            `json:"max_retries,omitempty"`
}

// Create validates the payload against its job type and enqueues a pending
// row scoped by the payload's session, stage and iteration.
func (j *jobService) Create(req *CreateRequest) (*models.Job, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, &jobpayload.ValidationError{Reason: "user_id is required"}
	}

	payload, err := jobpayload.DecodePayload(req.JobType, req.Payload)
	if err != nil {
		return nil, err
	}
	common := payload.Common()

	maxRetries := defaultMaxRetries
	switch {
	case req.MaxRetries != nil:
		maxRetries = *req.MaxRetries
	case common.MaxRetries != nil:
		maxRetries = *common.MaxRetries
	}
	if maxRetries < 0 {
		return nil, &jobpayload.ValidationError{Reason: "max_retries must not be negative"}
	}

	row := &models.Job{
		ID:              uuid.New(),
		UserID:          req.UserID,
		SessionID:       common.SessionID,
		StageSlug:       common.StageSlug,
		IterationNumber: common.IterationNumber,
		JobType:         req.JobType,
		Payload:         datatypes.JSON(req.Payload),
		Status:          models.JobStatusPending,
		MaxRetries:      maxRetries,
	}
	if common.TargetContributionID != "" {
		target := common.TargetContributionID
		row.TargetContributionID = &target
	}

	if err := j.jobs.InsertJobs(j.ctx, row); err != nil {
		return nil, err
	}

	if j.bus != nil {
		if data, err := json.Marshal(row); err != nil {
			log.Error("failed to marshal job created event", "error", err, "job_id", row.ID)
		} else {
			j.bus.Publish(event.Event{
				Type:      TypeJobCreated,
				JobID:     row.ID,
				UserID:    row.UserID,
				Timestamp: time.Now().UTC(),
				Payload:   data,
			})
		}
	}

	return row, nil
}
