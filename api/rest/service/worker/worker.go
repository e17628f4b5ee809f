package worker

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"gorm.io/gorm"
)

const activeClaimLimit = 50

type Service interface {
	Status(string) (*StatusResponse, error)
}

type service struct {
	ctx context.Context
	db  *gorm.DB
}

func New(ctx context.Context, db *gorm.DB) Service {
	return &service{ctx: ctx, db: db}
}

// StatusResponse summarises the job rows a node currently holds or last
// held a claim on.
type StatusResponse struct {
	NodeID           string             `json:"node_id"`
	ObservedAt       time.Time          `json:"observed_at"`
	TotalClaimedJobs int64              `json:"total_claimed_jobs"`
	ClaimedByType    map[string]int64   `json:"claimed_by_type"`
	ExpiredLeases    int64              `json:"expired_leases"`
	ActiveClaims     []ActiveClaimEntry `json:"active_claims"`
}

type ActiveClaimEntry struct {
	JobID          uuid.UUID      `json:"job_id"`
	JobType        models.JobType `json:"job_type"`
	SessionID      string         `json:"session_id"`
	AttemptCount   int            `json:"attempt_count"`
	ClaimExpiresAt *time.Time     `json:"claim_expires_at,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
}

func (s *service) Status(nodeID string) (*StatusResponse, error) {
	nodeID = strings.TrimSpace(nodeID)
	now := time.Now().UTC()

	resp := &StatusResponse{
		NodeID:        nodeID,
		ObservedAt:    now,
		ClaimedByType: map[string]int64{},
		ActiveClaims:  []ActiveClaimEntry{},
	}

	if nodeID == "" {
		return resp, nil
	}

	type countByType struct {
		JobType string
		Count   int64
	}

	var grouped []countByType
	if err := s.db.WithContext(s.ctx).
		Model(&models.Job{}).
		Select("job_type, COUNT(*) as count").
		Where("claimed_by = ? AND status = ?", nodeID, string(models.JobStatusProcessing)).
		Group("job_type").
		Scan(&grouped).Error; err != nil {
		return nil, err
	}

	for _, row := range grouped {
		resp.ClaimedByType[row.JobType] = row.Count
		resp.TotalClaimedJobs += row.Count
	}

	var active []models.Job
	if err := s.db.WithContext(s.ctx).
		Select("id, job_type, session_id, attempt_count, claim_expires_at, started_at").
		Where("claimed_by = ? AND status = ?", nodeID, string(models.JobStatusProcessing)).
		Order("claim_expires_at ASC").
		Limit(activeClaimLimit).
		Find(&active).Error; err != nil {
		return nil, err
	}

	for _, claim := range active {
		if claim.ClaimExpiresAt != nil && claim.ClaimExpiresAt.Before(now) {
			resp.ExpiredLeases++
		}
		resp.ActiveClaims = append(resp.ActiveClaims, ActiveClaimEntry{
			JobID:          claim.ID,
			JobType:        claim.JobType,
			SessionID:      claim.SessionID,
			AttemptCount:   claim.AttemptCount,
			ClaimExpiresAt: claim.ClaimExpiresAt,
			StartedAt:      claim.StartedAt,
		})
	}

	return resp, nil
}
