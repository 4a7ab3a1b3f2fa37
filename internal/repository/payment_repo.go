package repository

import (
	"context"
	"errors"
	"time"

	"lexpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if isDup(err) {
		return ErrDuplicateRequest
	}
	return err
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetPaymentByIdempotencyKey returns (nil, nil) when no row carries the key.
func (r *PaymentRepository) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// LockPayment reads a row FOR UPDATE; the lock only holds inside InTx.
func (r *PaymentRepository) LockPayment(ctx context.Context, id string) (*model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// LockPaymentByExternalRef takes a row lock; it only holds inside InTx.
func (r *PaymentRepository) LockPaymentByExternalRef(ctx context.Context, ref model.ExternalRef) (*model.Payment, error) {
	if ref.Empty() {
		return nil, ErrPaymentNotFound
	}

	query := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	switch {
	case ref.SessionID != "" && ref.PaymentID != "":
		query = query.Where("external_session_id = ? OR external_payment_id = ?", ref.SessionID, ref.PaymentID)
	case ref.SessionID != "":
		query = query.Where("external_session_id = ?", ref.SessionID)
	default:
		query = query.Where("external_payment_id = ?", ref.PaymentID)
	}

	var p model.Payment
	if err := query.First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// AttachCheckoutSession links the rail session to a pending row that has none yet.
func (r *PaymentRepository) AttachCheckoutSession(ctx context.Context, id, sessionID, checkoutURL string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ? AND external_session_id IS NULL", id, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"external_session_id": sessionID,
			"checkout_url":        checkoutURL,
		})
	if result.Error != nil {
		if isDup(result.Error) {
			return ErrStatusConflict
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *PaymentRepository) TransitionStatus(ctx context.Context, t StatusTransition) error {
	if !model.CanTransitionTo(t.From, t.To) {
		return ErrStatusConflict
	}

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	updates := map[string]interface{}{
		"status":        t.To,
		"payout_status": t.PayoutStatus,
	}
	if t.ExternalPaymentID != "" {
		updates["external_payment_id"] = t.ExternalPaymentID
	}
	if t.To == model.PaymentStatusSucceeded {
		updates["settled_at"] = &at
	}

	result := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ?", t.PaymentID, t.From).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *PaymentRepository) ListStalePending(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.PaymentStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// ListPayoutEligible returns rows ordered by provider, then age, so each
// group's payment ids come out in a stable order.
func (r *PaymentRepository) ListPayoutEligible(ctx context.Context, f PayoutFilter) ([]*model.Payment, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", model.PaymentStatusSucceeded).
		Where("payout_status IN ?", []string{model.PayoutStatusPending, model.PayoutStatusError}).
		Where("created_at < ?", f.Cutoff)
	if f.MaxAttempts > 0 {
		query = query.Where("payout_attempts < ?", f.MaxAttempts)
	}

	var payments []*model.Payment
	err := query.Order("provider_id ASC, created_at ASC, id ASC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) MarkPayoutCompleted(ctx context.Context, ids []string, reference string) (int64, error) {
	result := r.payoutScope(ctx, ids).Updates(map[string]interface{}{
		"payout_status":    model.PayoutStatusCompleted,
		"payout_reference": reference,
		"payout_error":     "",
	})
	return result.RowsAffected, result.Error
}

func (r *PaymentRepository) MarkPayoutError(ctx context.Context, ids []string, reason string, minAttempts int) (int64, error) {
	result := r.payoutScope(ctx, ids).Updates(map[string]interface{}{
		"payout_status":   model.PayoutStatusError,
		"payout_error":    truncate(reason, 512),
		"payout_attempts": gorm.Expr("GREATEST(payout_attempts + 1, ?)", minAttempts),
	})
	return result.RowsAffected, result.Error
}

// payoutScope guards payout updates: only succeeded rows whose payout is still open.
func (r *PaymentRepository) payoutScope(ctx context.Context, ids []string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id IN ?", ids).
		Where("status = ?", model.PaymentStatusSucceeded).
		Where("payout_status IN ?", []string{model.PayoutStatusPending, model.PayoutStatusError})
}
