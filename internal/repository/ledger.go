package repository

import (
	"context"
	"errors"
	"time"

	"lexpay/internal/model"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrStatusConflict          = errors.New("payment status conflict")
	ErrDuplicateRequest        = errors.New("duplicate request")
	ErrDuplicateEvent          = errors.New("duplicate webhook event")
	ErrProviderAccountNotFound = errors.New("provider account not found")
)

// StatusTransition is a compare-and-swap on payments.status: it only applies
// while the row is still in From.
type StatusTransition struct {
	PaymentID         string
	From              string
	To                string
	PayoutStatus      string
	ExternalPaymentID string
	At                time.Time
}

// PayoutFilter selects rows for one batch run.
type PayoutFilter struct {
	Cutoff      time.Time
	MaxAttempts int // 0 = unlimited
}

// LedgerStore is the only shared mutable state of the engine. Every mutation is
// row-scoped (payments by id) or an append (payout logs, webhook events, outbox).
type LedgerStore interface {
	// InTx runs fn against a store bound to one database transaction.
	InTx(ctx context.Context, fn func(tx LedgerStore) error) error

	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)
	LockPayment(ctx context.Context, id string) (*model.Payment, error)
	LockPaymentByExternalRef(ctx context.Context, ref model.ExternalRef) (*model.Payment, error)
	AttachCheckoutSession(ctx context.Context, id, sessionID, checkoutURL string) error
	TransitionStatus(ctx context.Context, t StatusTransition) error
	ListStalePending(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error)

	ListPayoutEligible(ctx context.Context, f PayoutFilter) ([]*model.Payment, error)
	MarkPayoutCompleted(ctx context.Context, ids []string, reference string) (int64, error)
	// MarkPayoutError bumps payout_attempts to at least minAttempts; pass
	// the attempt limit to park rows that will never succeed.
	MarkPayoutError(ctx context.Context, ids []string, reason string, minAttempts int) (int64, error)
	AppendPayoutLog(ctx context.Context, l *model.PayoutLog) error
	ListPayoutLogs(ctx context.Context, providerID string, limit int) ([]*model.PayoutLog, error)
	CountCompletedPayouts(ctx context.Context, providerID string, cutoff time.Time) (int64, error)

	RecordWebhookEvent(ctx context.Context, ev *model.WebhookEvent) error
	FinishWebhookEvent(ctx context.Context, id string, processErr string) error

	EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error
}

// GormLedger implements LedgerStore on top of the per-table repositories.
type GormLedger struct {
	db *gorm.DB
	*PaymentRepository
	*PayoutLogRepository
	*WebhookEventRepository
	*OutboxRepository
}

var _ LedgerStore = (*GormLedger)(nil)

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{
		db:                     db,
		PaymentRepository:      NewPaymentRepository(db),
		PayoutLogRepository:    NewPayoutLogRepository(db),
		WebhookEventRepository: NewWebhookEventRepository(db),
		OutboxRepository:       NewOutboxRepository(db),
	}
}

func (l *GormLedger) InTx(ctx context.Context, fn func(tx LedgerStore) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormLedger(tx))
	})
}

// isDup covers both gorm's translated error and a raw MySQL 1062 when the
// dialector was opened without TranslateError.
func isDup(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
