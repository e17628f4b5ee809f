package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"gorm.io/gorm"
)

// Store persists notifications to the notifications table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	if db == nil {
		panic("notification store requires a database handle")
	}
	return &Store{db: db}
}

func (s *Store) Send(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.TargetUserID) == "" {
		return errors.New("notification requires a target user")
	}

	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}

	row := &models.Notification{
		ID:              uuid.New(),
		UserID:          n.TargetUserID,
		Type:            string(n.Type),
		Data:            data,
		IsInternalEvent: n.IsInternalEvent,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications, newest first. Internal events
// are included only when internal is set.
func (s *Store) ListForUser(ctx context.Context, userID string, internal bool) ([]models.Notification, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !internal {
		q = q.Where("is_internal_event = ?", false)
	}

	var out []models.Notification
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
