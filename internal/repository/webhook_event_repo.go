package repository

import (
	"context"
	"time"

	"lexpay/internal/model"

	"gorm.io/gorm"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// RecordWebhookEvent returns ErrDuplicateEvent when (rail, event_id) was seen before.
func (r *WebhookEventRepository) RecordWebhookEvent(ctx context.Context, ev *model.WebhookEvent) error {
	err := r.db.WithContext(ctx).Create(ev).Error
	if isDup(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (r *WebhookEventRepository) FinishWebhookEvent(ctx context.Context, id string, processErr string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":  &now,
		"process_error": nil,
	}
	if processErr != "" {
		updates["process_error"] = truncate(processErr, 255)
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
