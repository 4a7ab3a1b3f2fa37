package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lexpay/internal/gateway"
	"lexpay/internal/model"
	"lexpay/internal/repository"

	"go.uber.org/zap"
)

type RefundService struct {
	ledger      repository.LedgerStore
	gw          gateway.PaymentGateway
	topic       string
	railTimeout time.Duration
	log         *zap.Logger
	now         func() time.Time
}

func NewRefundService(ledger repository.LedgerStore, gw gateway.PaymentGateway, topic string, railTimeout time.Duration, log *zap.Logger) *RefundService {
	if railTimeout <= 0 {
		railTimeout = 15 * time.Second
	}
	return &RefundService{
		ledger:      ledger,
		gw:          gw,
		topic:       topic,
		railTimeout: railTimeout,
		log:         log,
		now:         time.Now,
	}
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

// Refund returns the whole client amount through the rail, then moves the row
// succeeded -> refunded. Refunding an already refunded payment returns it unchanged.
func (s *RefundService) Refund(ctx context.Context, paymentID string, req *RefundRequest) (*model.Payment, error) {
	p, err := s.ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PaymentStatusRefunded {
		return p, nil
	}
	if p.Status != model.PaymentStatusSucceeded {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRefundable, p.Status)
	}

	railCtx, cancel := context.WithTimeout(ctx, s.railTimeout)
	res, err := s.gw.Refund(railCtx, gateway.RefundRequest{
		PaymentID:         p.ID,
		ExternalPaymentID: strOrEmpty(p.ExternalPaymentID),
		ExternalSessionID: strOrEmpty(p.ExternalSessionID),
		Amount:            p.ClientAmount,
		Currency:          p.Currency,
		Reason:            req.Reason,
		IdempotencyKey:    "refund:" + p.ID,
	})
	cancel()
	if err != nil {
		s.log.Error("rail refund failed", zap.String("payment_id", p.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}

	now := s.now()
	var refunded *model.Payment
	err = s.ledger.InTx(ctx, func(tx repository.LedgerStore) error {
		cur, err := tx.LockPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		if cur.Status == model.PaymentStatusRefunded {
			// the rail's refund webhook got here first
			refunded = cur
			return nil
		}
		if err := tx.TransitionStatus(ctx, repository.StatusTransition{
			PaymentID:    cur.ID,
			From:         cur.Status,
			To:           model.PaymentStatusRefunded,
			PayoutStatus: model.PayoutStatusAfter(cur.PayoutStatus, model.PaymentStatusRefunded),
			At:           now,
		}); err != nil {
			return err
		}
		if err := enqueuePaymentEvent(ctx, tx, s.topic, model.EventPaymentRefunded, cur, model.PaymentStatusRefunded, now); err != nil {
			return err
		}
		refunded, err = tx.GetPayment(ctx, cur.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: status changed during refund", ErrNotRefundable)
		}
		return nil, fmt.Errorf("record refund of %s: %w", p.ID, err)
	}

	s.log.Info("payment refunded",
		zap.String("payment_id", refunded.ID),
		zap.String("rail_refund_id", res.ID),
		zap.String("payout_status", refunded.PayoutStatus))
	return refunded, nil
}
