package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Notification is a persisted user notification or internal lifecycle event.
type Notification struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          string         `gorm:"type:text;index;not null" json:"user_id"`
	Type            string         `gorm:"type:text;index;not null" json:"type"`
	Data            datatypes.JSON `json:"data"`
	IsInternalEvent bool           `gorm:"not null;default:false" json:"is_internal_event"`
	Read            bool           `gorm:"not null;default:false" json:"read"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
