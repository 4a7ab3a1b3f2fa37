package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lexpay/internal/model"
	"lexpay/internal/repository"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrRailUnavailable   = errors.New("could not start payment")
	ErrCheckoutInFlight  = errors.New("a checkout with this idempotency key is already in progress")
	ErrIdempotencyReuse  = errors.New("idempotency key reused with a different request")
	ErrNotRefundable     = errors.New("payment is not refundable")
	ErrRefundFailed      = errors.New("rail refused the refund")
	ErrBatchInProgress   = errors.New("a payout batch is already running")
	ErrPayoutDestination = errors.New("provider payout destination missing")
	ErrMixedCurrency     = errors.New("payout group mixes currencies")
)

// Locker grants exclusive, expiring locks. Acquire fails with lock.ErrLockFailed
// when the key is held; the returned func releases it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// PayoutDirectory resolves a provider's payout destination. The profile
// service owns the data; repository.ProviderAccountRepository reads it.
type PayoutDirectory interface {
	GetPayoutAccount(ctx context.Context, providerID string) (*model.ProviderAccount, error)
}

type IDGenerator interface {
	PaymentID() string
}

type paymentEvent struct {
	Event       string `json:"event"`
	PaymentID   string `json:"payment_id"`
	ClientID    string `json:"client_id"`
	ProviderID  string `json:"provider_id"`
	ClientEmail string `json:"client_email,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	OccurredAt  string `json:"occurred_at"`
}

type payoutEvent struct {
	Event      string   `json:"event"`
	ProviderID string   `json:"provider_id"`
	Amount     int64    `json:"amount"`
	Currency   string   `json:"currency"`
	PaymentIDs []string `json:"payment_ids"`
	Reference  string   `json:"reference,omitempty"`
	Unsettled  []string `json:"unsettled_payment_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
	OccurredAt string   `json:"occurred_at"`
}

// enqueuePaymentEvent must run inside the transaction that made the transition,
// so the notification exists exactly when the transition does.
func enqueuePaymentEvent(ctx context.Context, tx repository.LedgerStore, topic, event string, p *model.Payment, status string, at time.Time) error {
	payload, err := json.Marshal(paymentEvent{
		Event:       event,
		PaymentID:   p.ID,
		ClientID:    p.ClientID,
		ProviderID:  p.ProviderID,
		ClientEmail: p.ClientEmail,
		Amount:      p.ClientAmount,
		Currency:    p.Currency,
		Status:      status,
		OccurredAt:  at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	return tx.EnqueueOutbox(ctx, &model.OutboxMessage{
		MessageKey: p.ID,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func enqueuePayoutEvent(ctx context.Context, tx repository.LedgerStore, topic string, ev payoutEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Event, err)
	}
	return tx.EnqueueOutbox(ctx, &model.OutboxMessage{
		MessageKey: ev.ProviderID,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func eventForStatus(status string) string {
	switch status {
	case model.PaymentStatusSucceeded:
		return model.EventPaymentSucceeded
	case model.PaymentStatusFailed:
		return model.EventPaymentFailed
	case model.PaymentStatusRefunded:
		return model.EventPaymentRefunded
	default:
		return ""
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
