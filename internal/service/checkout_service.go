package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexpay/internal/fee"
	"lexpay/internal/gateway"
	"lexpay/internal/infrastructure/lock"
	"lexpay/internal/model"
	"lexpay/internal/repository"

	"go.uber.org/zap"
)

type CheckoutConfig struct {
	Basis       fee.Basis
	Currency    string
	PendingTTL  time.Duration
	RailTimeout time.Duration
	LockTTL     time.Duration
	Topic       string
	// used when the request carries no return URLs
	SuccessURL string
	FailureURL string
	PendingURL string
}

type CheckoutService struct {
	ledger repository.LedgerStore
	gw     gateway.PaymentGateway
	calc   *fee.Calculator
	ids    IDGenerator
	locker Locker
	cfg    CheckoutConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewCheckoutService(ledger repository.LedgerStore, gw gateway.PaymentGateway, calc *fee.Calculator,
	ids IDGenerator, locker Locker, cfg CheckoutConfig, log *zap.Logger) *CheckoutService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.RailTimeout <= 0 {
		cfg.RailTimeout = 15 * time.Second
	}
	return &CheckoutService{
		ledger: ledger,
		gw:     gw,
		calc:   calc,
		ids:    ids,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

type CheckoutRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description" binding:"required"`
	ClientID    string `json:"clientId" binding:"required"`
	ProviderID  string `json:"providerId" binding:"required"`
	ClientEmail string `json:"clientEmail" binding:"required"`
	ClientName  string `json:"clientName"`
	SuccessURL  string `json:"successUrl"`
	FailureURL  string `json:"failureUrl"`
	PendingURL  string `json:"pendingUrl"`
	// BookingReference doubles as the idempotency key; the Idempotency-Key
	// header takes precedence when both are sent.
	BookingReference string `json:"bookingReference"`
	IdempotencyKey   string `json:"-"`
}

type CheckoutResponse struct {
	PaymentID   string `json:"paymentId"`
	PaymentLink string `json:"paymentLink"`
}

func (r *CheckoutRequest) key() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return r.BookingReference
}

func (r *CheckoutRequest) validate() error {
	var missing []string
	if r.Amount <= 0 {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(r.Description) == "" {
		missing = append(missing, "description")
	}
	if r.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if r.ProviderID == "" {
		missing = append(missing, "providerId")
	}
	if r.ClientEmail == "" {
		missing = append(missing, "clientEmail")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing or invalid %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if len(r.key()) > 128 {
		return fmt.Errorf("%w: idempotency key longer than 128 characters", ErrInvalidRequest)
	}
	return nil
}

// CreateCheckout writes the pending row first, then opens the rail session and
// links it. A rail failure leaves the row pending without a session; the same
// idempotency key resubmitted later retries on that row instead of adding one.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	split, err := s.calc.Calculate(req.Amount, s.cfg.Basis)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	key := req.key()
	if key == "" {
		p, err := s.createPayment(ctx, req, split, nil)
		if err != nil {
			return nil, err
		}
		return s.openSession(ctx, p, req)
	}

	release, err := s.locker.Acquire(ctx, "checkout:lock:"+key, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, ErrCheckoutInFlight
		}
		return nil, fmt.Errorf("acquire checkout lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.log.Warn("release checkout lock", zap.String("key", key), zap.Error(err))
		}
	}()

	existing, err := s.ledger.GetPaymentByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up idempotency key: %w", err)
	}
	if existing != nil {
		return s.resume(ctx, existing, req, split)
	}

	p, err := s.createPayment(ctx, req, split, &key)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, p, req)
}

func (s *CheckoutService) resume(ctx context.Context, p *model.Payment, req *CheckoutRequest, split fee.Split) (*CheckoutResponse, error) {
	if p.ClientID != req.ClientID || p.ProviderID != req.ProviderID || p.ClientAmount != split.ClientAmount {
		return nil, ErrIdempotencyReuse
	}
	if p.ExternalSessionID != nil {
		return &CheckoutResponse{PaymentID: p.ID, PaymentLink: p.CheckoutURL}, nil
	}
	if p.Status != model.PaymentStatusPending {
		// expired before any session was opened
		return nil, fmt.Errorf("%w: payment %s is %s", ErrIdempotencyReuse, p.ID, p.Status)
	}

	s.log.Info("retrying checkout session", zap.String("payment_id", p.ID))
	return s.openSession(ctx, p, req)
}

func (s *CheckoutService) createPayment(ctx context.Context, req *CheckoutRequest, split fee.Split, key *string) (*model.Payment, error) {
	now := s.now()
	p := &model.Payment{
		ID:              s.ids.PaymentID(),
		IdempotencyKey:  key,
		ClientID:        req.ClientID,
		ProviderID:      req.ProviderID,
		ClientEmail:     req.ClientEmail,
		Description:     req.Description,
		GrossAmount:     split.GrossAmount,
		ProviderAmount:  split.ProviderAmount,
		PlatformFee:     split.PlatformFee,
		ClientSurcharge: split.ClientSurcharge,
		ClientAmount:    split.ClientAmount,
		Currency:        s.cfg.Currency,
		Status:          model.PaymentStatusPending,
		Rail:            s.gw.Name(),
		PayoutStatus:    model.PayoutStatusNotApplicable,
		ExpiresAt:       now.Add(s.cfg.PendingTTL),
	}

	if err := s.ledger.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateRequest) {
			return nil, ErrCheckoutInFlight
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

func (s *CheckoutService) openSession(ctx context.Context, p *model.Payment, req *CheckoutRequest) (*CheckoutResponse, error) {
	railCtx, cancel := context.WithTimeout(ctx, s.cfg.RailTimeout)
	defer cancel()

	sess, err := s.gw.CreateCheckout(railCtx, gateway.CheckoutRequest{
		PaymentID:      p.ID,
		Amount:         p.ClientAmount,
		Currency:       p.Currency,
		Description:    p.Description,
		ClientEmail:    p.ClientEmail,
		ClientName:     req.ClientName,
		SuccessURL:     orDefault(req.SuccessURL, s.cfg.SuccessURL),
		FailureURL:     orDefault(req.FailureURL, s.cfg.FailureURL),
		PendingURL:     orDefault(req.PendingURL, s.cfg.PendingURL),
		IdempotencyKey: "checkout:" + p.ID,
	})
	if err != nil {
		s.log.Error("rail checkout failed",
			zap.String("payment_id", p.ID),
			zap.String("rail", s.gw.Name()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}

	if err := s.ledger.AttachCheckoutSession(ctx, p.ID, sess.ID, sess.RedirectURL); err != nil {
		return nil, fmt.Errorf("attach checkout session to %s: %w", p.ID, err)
	}

	s.log.Info("checkout created",
		zap.String("payment_id", p.ID),
		zap.String("session_id", sess.ID),
		zap.Int64("client_amount", p.ClientAmount),
		zap.Int64("provider_amount", p.ProviderAmount),
		zap.Int64("platform_fee", p.PlatformFee))

	return &CheckoutResponse{PaymentID: p.ID, PaymentLink: sess.RedirectURL}, nil
}

// ExpireStale fails pending payments past their expiry and returns how many
// rows were closed.
func (s *CheckoutService) ExpireStale(ctx context.Context, limit int) (int, error) {
	now := s.now()
	stale, err := s.ledger.ListStalePending(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale payments: %w", err)
	}

	closed := 0
	for _, p := range stale {
		err := s.ledger.InTx(ctx, func(tx repository.LedgerStore) error {
			if err := tx.TransitionStatus(ctx, repository.StatusTransition{
				PaymentID:    p.ID,
				From:         model.PaymentStatusPending,
				To:           model.PaymentStatusFailed,
				PayoutStatus: model.PayoutStatusNotApplicable,
				At:           now,
			}); err != nil {
				return err
			}
			return enqueuePaymentEvent(ctx, tx, s.cfg.Topic, model.EventPaymentFailed, p, model.PaymentStatusFailed, now)
		})
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				// a webhook settled it first
				continue
			}
			s.log.Error("expire payment", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		closed++
		s.log.Info("payment expired", zap.String("payment_id", p.ID), zap.Time("expires_at", p.ExpiresAt))
	}
	return closed, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
