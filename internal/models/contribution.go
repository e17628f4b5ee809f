package models

import (
	"time"
)

// Contribution records one model output saved to storage.
type Contribution struct {
	ID                   string    `gorm:"type:text;primaryKey" json:"id"`
	SessionID            string    `gorm:"type:text;index;not null" json:"session_id"`
	StageSlug            string    `gorm:"type:text;index;not null" json:"stage"`
	IterationNumber      int       `gorm:"not null" json:"iteration_number"`
	ModelID              string    `gorm:"type:text;index;not null" json:"model_id"`
	ContributionType     string    `gorm:"type:text" json:"contribution_type"`
	DocumentKey          string    `gorm:"type:text;index" json:"document_key,omitempty"`
	StoragePath          string    `gorm:"type:text;not null" json:"storage_path"`
	FileName             string    `gorm:"type:text;not null" json:"file_name"`
	MimeType             string    `gorm:"type:text" json:"mime_type"`
	SizeBytes            int64     `json:"size_bytes"`
	TargetContributionID *string   `gorm:"type:text;index" json:"target_contribution_id,omitempty"`
	TokensUsedInput      int       `json:"tokens_used_input"`
	TokensUsedOutput     int       `json:"tokens_used_output"`
	IsRendered           bool      `gorm:"not null;default:false" json:"is_rendered"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`
}

func (Contribution) TableName() string { return "dialectic_contributions" }
