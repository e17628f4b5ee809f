package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobType tags which variant of payload a job carries.
type JobType string

const (
	JobTypePlan    JobType = "PLAN"
	JobTypeExecute JobType = "EXECUTE"
	JobTypeRender  JobType = "RENDER"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypePlan, JobTypeExecute, JobTypeRender:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending                JobStatus = "pending"
	JobStatusProcessing             JobStatus = "processing"
	JobStatusCompleted              JobStatus = "completed"
	JobStatusFailed                 JobStatus = "failed"
	JobStatusRetrying               JobStatus = "retrying"
	JobStatusWaitingForChildren     JobStatus = "waiting_for_children"
	JobStatusWaitingForPrerequisite JobStatus = "waiting_for_prerequisite"
)

// InProgressStatuses lists every status that still blocks dependents.
var InProgressStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusRetrying,
	JobStatusWaitingForChildren,
	JobStatusWaitingForPrerequisite,
}

// ClaimableStatuses lists the statuses a worker may claim from.
var ClaimableStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRetrying,
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// InProgress reports whether the status blocks dependents.
func (s JobStatus) InProgress() bool {
	for _, candidate := range InProgressStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Job is one unit of work in the dialectic pipeline. Rows are never deleted.
type Job struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               string         `gorm:"type:text;index" json:"user_id"`
	SessionID            string         `gorm:"type:text;index:idx_job_scope;not null" json:"session_id"`
	StageSlug            string         `gorm:"type:text;index:idx_job_scope;not null" json:"stage_slug"`
	IterationNumber      int            `gorm:"index:idx_job_scope;not null" json:"iteration_number"`
	JobType              JobType        `gorm:"type:text;index:idx_job_scope;not null" json:"job_type"`
	Payload              datatypes.JSON `json:"payload"`
	Status               JobStatus      `gorm:"type:text;index;not null" json:"status"`
	AttemptCount         int            `gorm:"not null;default:0" json:"attempt_count"`
	MaxRetries           int            `gorm:"not null;default:3" json:"max_retries"`
	ParentJobID          *uuid.UUID     `gorm:"type:uuid;index" json:"parent_job_id,omitempty"`
	PrerequisiteJobID    *uuid.UUID     `gorm:"type:uuid;index" json:"prerequisite_job_id,omitempty"`
	TargetContributionID *string        `gorm:"type:text" json:"target_contribution_id,omitempty"`
	ClaimedBy            string         `gorm:"type:text;index;not null;default:''" json:"claimed_by"`
	ClaimExpiresAt       *time.Time     `gorm:"index" json:"claim_expires_at,omitempty"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	ErrorDetails         datatypes.JSON `json:"error_details,omitempty"`
	Results              datatypes.JSON `json:"results,omitempty"`
	CreatedAt            time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "dialectic_generation_jobs" }

type Jobs []*Job
