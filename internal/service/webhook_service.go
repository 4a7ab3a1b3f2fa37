package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lexpay/internal/gateway"
	"lexpay/internal/model"
	"lexpay/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type WebhookOutcome string

const (
	// WebhookApplied: a status transition was committed.
	WebhookApplied WebhookOutcome = "applied"
	// WebhookDuplicate: the event id was seen before, or the payment already
	// carries the target status.
	WebhookDuplicate WebhookOutcome = "duplicate"
	// WebhookIgnored: recorded but nothing to apply (no status, unknown
	// payment, forbidden transition).
	WebhookIgnored WebhookOutcome = "ignored"
)

var errEventSeen = errors.New("event already recorded")

type WebhookService struct {
	ledger repository.LedgerStore
	gw     gateway.PaymentGateway
	topic  string
	log    *zap.Logger
	now    func() time.Time
}

func NewWebhookService(ledger repository.LedgerStore, gw gateway.PaymentGateway, topic string, log *zap.Logger) *WebhookService {
	return &WebhookService{ledger: ledger, gw: gw, topic: topic, log: log, now: time.Now}
}

// Handle verifies and applies one rail notification. Signature and payload
// problems come back as gateway.ErrInvalidSignature / gateway.ErrMalformedEvent
// before anything is written; any other error means the ledger rolled back
// and the rail should redeliver.
func (s *WebhookService) Handle(ctx context.Context, header http.Header, body []byte) (WebhookOutcome, error) {
	ev, err := s.gw.ParseWebhook(header, body)
	if err != nil {
		return "", err
	}

	var outcome WebhookOutcome
	err = s.ledger.InTx(ctx, func(tx repository.LedgerStore) error {
		o, err := s.apply(ctx, tx, ev)
		outcome = o
		return err
	})
	if errors.Is(err, errEventSeen) {
		s.log.Info("duplicate webhook event", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return WebhookDuplicate, nil
	}
	if err != nil {
		s.log.Error("apply webhook event",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err))
		return "", fmt.Errorf("apply event %s: %w", ev.ID, err)
	}
	return outcome, nil
}

func (s *WebhookService) apply(ctx context.Context, tx repository.LedgerStore, ev *gateway.Event) (WebhookOutcome, error) {
	now := s.now()
	payload := ev.Raw
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	record := &model.WebhookEvent{
		ID:         uuid.NewString(),
		Rail:       s.gw.Name(),
		EventID:    ev.ID,
		EventType:  ev.Type,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: now,
	}
	if err := tx.RecordWebhookEvent(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			return WebhookDuplicate, errEventSeen
		}
		return "", fmt.Errorf("record event: %w", err)
	}

	finish := func(o WebhookOutcome, note string) (WebhookOutcome, error) {
		if err := tx.FinishWebhookEvent(ctx, record.ID, note); err != nil {
			return "", fmt.Errorf("finish event: %w", err)
		}
		return o, nil
	}

	if ev.Status == "" {
		return finish(WebhookIgnored, "")
	}

	p, err := tx.LockPaymentByExternalRef(ctx, model.ExternalRef{SessionID: ev.SessionID, PaymentID: ev.PaymentID})
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			s.log.Warn("webhook for unknown payment",
				zap.String("event_id", ev.ID),
				zap.String("session_id", ev.SessionID),
				zap.String("rail_payment_id", ev.PaymentID))
			return finish(WebhookIgnored, "payment not found")
		}
		return "", fmt.Errorf("lock payment: %w", err)
	}

	if p.Status == ev.Status {
		return finish(WebhookDuplicate, "")
	}

	if !model.CanTransitionTo(p.Status, ev.Status) {
		note := fmt.Sprintf("transition %s -> %s rejected", p.Status, ev.Status)
		if p.Status == model.PaymentStatusFailed && ev.Status == model.PaymentStatusSucceeded {
			// money moved on a row we already gave up on; needs an operator
			s.log.Error("settlement for failed payment",
				zap.String("payment_id", p.ID),
				zap.String("event_id", ev.ID))
		} else {
			s.log.Warn("webhook transition rejected",
				zap.String("payment_id", p.ID),
				zap.String("from", p.Status),
				zap.String("to", ev.Status))
		}
		return finish(WebhookIgnored, note)
	}

	err = tx.TransitionStatus(ctx, repository.StatusTransition{
		PaymentID:         p.ID,
		From:              p.Status,
		To:                ev.Status,
		PayoutStatus:      model.PayoutStatusAfter(p.PayoutStatus, ev.Status),
		ExternalPaymentID: ev.PaymentID,
		At:                now,
	})
	if err != nil {
		return "", fmt.Errorf("transition %s: %w", p.ID, err)
	}

	if err := enqueuePaymentEvent(ctx, tx, s.topic, eventForStatus(ev.Status), p, ev.Status, now); err != nil {
		return "", fmt.Errorf("enqueue notification: %w", err)
	}

	s.log.Info("payment status changed",
		zap.String("payment_id", p.ID),
		zap.String("from", p.Status),
		zap.String("to", ev.Status),
		zap.String("event_id", ev.ID))

	return finish(WebhookApplied, "")
}
