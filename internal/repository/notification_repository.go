package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"voice-planner/internal/model"
)

// NotificationRepository keeps the notification history log.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Append(ctx context.Context, rec *model.NotificationRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// ListByUser returns the newest records first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.NotificationRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []model.NotificationRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return records, nil
}
