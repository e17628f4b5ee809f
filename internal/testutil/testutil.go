package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB returns an in-memory sqlite DB with migrations applied.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	return db
}

// CloseDB closes the underlying sql.DB if available.
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AssertCount asserts a count for the provided model using the supplied DB.
func AssertCount(tb testing.TB, db *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}

// JobInput describes a job row to seed.
type JobInput struct {
	UserID          string
	SessionID       string
	StageSlug       string
	IterationNumber int
	JobType         models.JobType
	Status          models.JobStatus
	Payload         map[string]any
	MaxRetries      int
	ParentJobID     *uuid.UUID
	CreatedAt       time.Time
}

// NewJob builds an unsaved job row, filling scoping defaults.
func NewJob(tb testing.TB, in JobInput) *models.Job {
	tb.Helper()

	if in.SessionID == "" {
		in.SessionID = "session-1"
	}
	if in.StageSlug == "" {
		in.StageSlug = "thesis"
	}
	if in.IterationNumber == 0 {
		in.IterationNumber = 1
	}
	if in.Status == "" {
		in.Status = models.JobStatusPending
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(in.Payload)
	if err != nil {
		tb.Fatalf("marshal payload: %v", err)
	}

	return &models.Job{
		ID:              uuid.New(),
		UserID:          in.UserID,
		SessionID:       in.SessionID,
		StageSlug:       in.StageSlug,
		IterationNumber: in.IterationNumber,
		JobType:         in.JobType,
		Payload:         raw,
		Status:          in.Status,
		MaxRetries:      in.MaxRetries,
		ParentJobID:     in.ParentJobID,
		CreatedAt:       in.CreatedAt,
		UpdatedAt:       in.CreatedAt,
	}
}

// SeedJob inserts a job row built by NewJob.
func SeedJob(tb testing.TB, db *gorm.DB, in JobInput) *models.Job {
	tb.Helper()

	record := NewJob(tb, in)
	if err := db.Create(record).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return record
}

// ExecutePayload returns a valid EXECUTE payload producing documentKey for model.
func ExecutePayload(model, documentKey string) map[string]any {
	return map[string]any{
		"projectId":       "project-1",
		"sessionId":       "session-1",
		"stageSlug":       "thesis",
		"iterationNumber": 1,
		"model_id":        model,
		"output_type":     documentKey,
		"canonicalPathParams": map[string]any{
			"contributionType": "thesis",
		},
		"inputs": map[string]any{},
	}
}

// RenderPayload returns a valid RENDER payload for documentKey.
func RenderPayload(model, documentKey string) map[string]any {
	return map[string]any{
		"projectId":            "project-1",
		"sessionId":            "session-1",
		"stageSlug":            "thesis",
		"iterationNumber":      1,
		"model_id":             model,
		"documentKey":          documentKey,
		"documentIdentity":     "doc-root-1",
		"sourceContributionId": "contrib-1",
	}
}

// PlanPayload returns a valid PLAN payload bound to recipeStepID.
func PlanPayload(model, recipeStepID string) map[string]any {
	return map[string]any{
		"projectId":       "project-1",
		"sessionId":       "session-1",
		"stageSlug":       "thesis",
		"iterationNumber": 1,
		"model_id":        model,
		"planner_metadata": map[string]any{
			"recipe_step_id": recipeStepID,
		},
	}
}
