package repository

import (
	"context"
	"time"

	"lexpay/internal/model"

	"gorm.io/gorm"
)

// PayoutLogRepository is append-only.
type PayoutLogRepository struct {
	db *gorm.DB
}

func NewPayoutLogRepository(db *gorm.DB) *PayoutLogRepository {
	return &PayoutLogRepository{db: db}
}

func (r *PayoutLogRepository) AppendPayoutLog(ctx context.Context, l *model.PayoutLog) error {
	l.ErrorMessage = truncate(l.ErrorMessage, 512)
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *PayoutLogRepository) ListPayoutLogs(ctx context.Context, providerID string, limit int) ([]*model.PayoutLog, error) {
	query := r.db.WithContext(ctx).Model(&model.PayoutLog{})
	if providerID != "" {
		query = query.Where("provider_id = ?", providerID)
	}

	var logs []*model.PayoutLog
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// CountCompletedPayouts counts transfers already made to a provider for one cutoff.
func (r *PayoutLogRepository) CountCompletedPayouts(ctx context.Context, providerID string, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.PayoutLog{}).
		Where("provider_id = ? AND cutoff = ? AND status = ?", providerID, cutoff, model.PayoutLogStatusCompleted).
		Count(&n).Error
	return n, err
}
