package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Filter selects job rows by equality on the scoping columns and set
// membership on status. Zero-valued fields are not applied.
type Filter struct {
	SessionID         string
	StageSlug         string
	IterationNumber   *int
	JobType           models.JobType
	JobTypes          []models.JobType
	Statuses          []models.JobStatus
	ParentJobID       *uuid.UUID
	PrerequisiteJobID *uuid.UUID
	UserID            string
	// UnleasedAt keeps only rows with no live lease at that instant.
	UnleasedAt        *time.Time
	Limit             int
}

// Update is a partial update of one job row. Nil fields are left untouched.
type Update struct {
	Status         *models.JobStatus
	AttemptCount   *int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorDetails   datatypes.JSON
	Results        datatypes.JSON
	ClaimedBy      *string
	ClaimExpiresAt *time.Time
	ClearClaim     bool
	// IfStatus applies the update only while the row still has this status.
	IfStatus       *models.JobStatus
}

// ErrStatusChanged is returned for a guarded update whose row moved on.
var ErrStatusChanged = errors.New("job status changed")

// Columns returns the column map applied by UpdateJob.
func (u Update) Columns() map[string]interface{} {
	cols := make(map[string]interface{}, 8)
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.AttemptCount != nil {
		cols["attempt_count"] = *u.AttemptCount
	}
	if u.StartedAt != nil {
		cols["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	if u.ErrorDetails != nil {
		cols["error_details"] = u.ErrorDetails
	}
	if u.Results != nil {
		cols["results"] = u.Results
	}
	if u.ClaimedBy != nil {
		cols["claimed_by"] = *u.ClaimedBy
	}
	if u.ClaimExpiresAt != nil {
		cols["claim_expires_at"] = *u.ClaimExpiresAt
	}
	if u.ClearClaim {
		cols["claimed_by"] = ""
		cols["claim_expires_at"] = nil
	}
	return cols
}

// Reader is the read side consumed by the blocker resolver.
type Reader interface {
	SelectJobs(ctx context.Context, filter Filter) (models.Jobs, error)
}

// Updater is the write side consumed by the orchestrator.
type Updater interface {
	UpdateJob(ctx context.Context, id uuid.UUID, update Update) error
}

// Inserter enqueues new job rows.
type Inserter interface {
	InsertJobs(ctx context.Context, jobs ...*models.Job) error
}

// JobStore is the full surface of the persistent job table.
type JobStore interface {
	Reader
	Updater
	Inserter
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Store is the gorm-backed job table.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	if db == nil {
		panic("job store requires a database handle")
	}
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// SelectJobs returns matching rows in store order (created_at, then id).
func (s *Store) SelectJobs(ctx context.Context, filter Filter) (models.Jobs, error) {
	q := s.db.WithContext(ctx).Model(&models.Job{})

	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.StageSlug != "" {
		q = q.Where("stage_slug = ?", filter.StageSlug)
	}
	if filter.IterationNumber != nil {
		q = q.Where("iteration_number = ?", *filter.IterationNumber)
	}
	if filter.JobType != "" {
		q = q.Where("job_type = ?", string(filter.JobType))
	}
	if len(filter.JobTypes) > 0 {
		types := make([]string, 0, len(filter.JobTypes))
		for _, t := range filter.JobTypes {
			types = append(types, string(t))
		}
		q = q.Where("job_type IN ?", types)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.ParentJobID != nil {
		q = q.Where("parent_job_id = ?", *filter.ParentJobID)
	}
	if filter.PrerequisiteJobID != nil {
		q = q.Where("prerequisite_job_id = ?", *filter.PrerequisiteJobID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.UnleasedAt != nil {
		q = q.Where("(claimed_by = '' OR claim_expires_at IS NULL OR claim_expires_at < ?)", *filter.UnleasedAt)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var jobs models.Jobs
	if err := q.Order("created_at ASC").Order("id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob applies a partial update to one row.
func (s *Store) UpdateJob(ctx context.Context, id uuid.UUID, update Update) error {
	cols := update.Columns()
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = time.Now().UTC()

	q := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id)
	if update.IfStatus != nil {
		q = q.Where("status = ?", string(*update.IfStatus))
	}
	result := q.Updates(cols)
	if result.Error != nil {
		return fmt.Errorf("update job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		if update.IfStatus != nil {
			return fmt.Errorf("update job %s from %s: %w", id, *update.IfStatus, ErrStatusChanged)
		}
		return fmt.Errorf("update job %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// InsertJobs creates rows, assigning ids and timestamps where missing.
func (s *Store) InsertJobs(ctx context.Context, jobs ...*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if j.Status == "" {
			j.Status = models.JobStatusPending
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		if j.UpdatedAt.IsZero() {
			j.UpdatedAt = j.CreatedAt
		}
	}

	if err := s.db.WithContext(ctx).Create(jobs).Error; err != nil {
		return fmt.Errorf("insert jobs: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	if err := s.db.WithContext(ctx).First(j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return j, nil
}

// TryClaim atomically moves a claimable row to processing for owner. It
// reports false when the row was not claimable or another worker won.
func (s *Store) TryClaim(ctx context.Context, id uuid.UUID, owner string, expiresAt time.Time) (bool, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where(
			"id = ? AND status IN ? AND (claimed_by = '' OR claim_expires_at IS NULL OR claim_expires_at < ?)",
			id,
			claimableStatuses(),
			now,
		).
		Updates(map[string]interface{}{
			"status":           string(models.JobStatusProcessing),
			"claimed_by":       owner,
			"claim_expires_at": expiresAt,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RenewClaim extends the lease on a row still held by owner.
func (s *Store) RenewClaim(ctx context.Context, id uuid.UUID, owner string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND claimed_by = ? AND status = ?", id, owner, string(models.JobStatusProcessing)).
		Update("claim_expires_at", expiresAt).Error
}

// ReclaimExpired returns processing rows with a lapsed lease to pending.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at < ?", string(models.JobStatusProcessing), now).
		Updates(map[string]interface{}{
			"status":           string(models.JobStatusPending),
			"claimed_by":       "",
			"claim_expires_at": nil,
			"started_at":       nil,
			"updated_at":       now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func claimableStatuses() []string {
	out := make([]string, 0, len(models.ClaimableStatuses))
	for _, status := range models.ClaimableStatuses {
		out = append(out, string(status))
	}
	return out
}
