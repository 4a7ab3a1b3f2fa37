package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lexpay/internal/fee"
	"lexpay/internal/gateway"
	"lexpay/internal/infrastructure/lock"
	"lexpay/internal/model"
	"lexpay/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const PayoutRunLockKey = "payout:run:lock"

const (
	PayoutOutcomeCompleted = "completed"
	PayoutOutcomeError     = "error"
	PayoutOutcomeSkipped   = "skipped"
)

type PayoutConfig struct {
	WeekStart       time.Weekday
	Location        *time.Location
	MaxAttempts     int
	Concurrency     int
	LockTTL         time.Duration
	TransferTimeout time.Duration
	Topic           string
}

type PayoutService struct {
	ledger    repository.LedgerStore
	transfers gateway.TransferClient
	directory PayoutDirectory
	locker    Locker
	cfg       PayoutConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewPayoutService(ledger repository.LedgerStore, transfers gateway.TransferClient, directory PayoutDirectory,
	locker Locker, cfg PayoutConfig, log *zap.Logger) *PayoutService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Second
	}
	return &PayoutService{
		ledger:    ledger,
		transfers: transfers,
		directory: directory,
		locker:    locker,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// PayoutGroup is one provider's share of a batch. It only lives for the run;
// its result is persisted as a PayoutLog.
type PayoutGroup struct {
	ProviderID    string
	Currency      string
	MixedCurrency bool
	PaymentIDs    []string
	Amounts       []int64

	// IdempotencyKey is fixed once the group's place in the week is known.
	IdempotencyKey string
}

type ProviderOutcome struct {
	ProviderID   string `json:"providerId"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	PaymentCount int    `json:"paymentCount"`
	Reference    string `json:"reference,omitempty"`

	// Unsettled lists payments the transfer paid for that were refunded
	// before the ledger caught up.
	Unsettled []string `json:"unsettledPaymentIds,omitempty"`
}

type BatchReport struct {
	Cutoff    time.Time         `json:"cutoff"`
	Processed []ProviderOutcome `json:"processed"`
}

// WeekCutoff is the most recent weekStart midnight in loc at or before now.
func WeekCutoff(now time.Time, weekStart time.Weekday, loc *time.Location) time.Time {
	local := now.In(loc)
	back := (int(local.Weekday()) - int(weekStart) + 7) % 7
	day := local.AddDate(0, 0, -back)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
}

// PayoutIdempotencyKey identifies the seq-th transfer to a provider for one
// cutoff. A retried run reuses the key of the transfer it could not record,
// and a later run in the same week that finds new payments gets a fresh one.
func PayoutIdempotencyKey(providerID string, cutoff time.Time, seq int) string {
	key := fmt.Sprintf("payout:%s:%s", providerID, cutoff.Format("2006-01-02"))
	if seq > 1 {
		key = fmt.Sprintf("%s:%d", key, seq)
	}
	return key
}

// GroupPayments buckets payments by provider, keeping the input order inside
// each group and the order of first appearance across groups.
func GroupPayments(payments []*model.Payment) []*PayoutGroup {
	var groups []*PayoutGroup
	byProvider := make(map[string]*PayoutGroup)
	for _, p := range payments {
		g, ok := byProvider[p.ProviderID]
		if !ok {
			g = &PayoutGroup{ProviderID: p.ProviderID, Currency: p.Currency}
			byProvider[p.ProviderID] = g
			groups = append(groups, g)
		}
		if p.Currency != g.Currency {
			g.MixedCurrency = true
		}
		g.PaymentIDs = append(g.PaymentIDs, p.ID)
		g.Amounts = append(g.Amounts, p.ProviderAmount)
	}
	return groups
}

// Run settles every eligible payment created before this week's cutoff.
// Groups succeed or fail independently; only a failure to take the run lock
// or to read the ledger fails the whole run. The run stops starting transfers
// once LockTTL has elapsed, since the lock may belong to someone else by then.
func (s *PayoutService) Run(ctx context.Context) (*BatchReport, error) {
	release, err := s.locker.Acquire(ctx, PayoutRunLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, ErrBatchInProgress
		}
		return nil, fmt.Errorf("acquire payout lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.log.Warn("release payout lock", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	defer cancel()

	cutoff := WeekCutoff(s.now(), s.cfg.WeekStart, s.cfg.Location)
	payments, err := s.ledger.ListPayoutEligible(ctx, repository.PayoutFilter{
		Cutoff:      cutoff,
		MaxAttempts: s.cfg.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("list payout eligible: %w", err)
	}

	groups := GroupPayments(payments)
	s.log.Info("payout batch started",
		zap.Time("cutoff", cutoff),
		zap.Int("payments", len(payments)),
		zap.Int("providers", len(groups)))

	outcomes := make([]ProviderOutcome, len(groups))
	var eg errgroup.Group
	eg.SetLimit(s.cfg.Concurrency)
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			if runCtx.Err() != nil {
				outcomes[i] = s.deadlineReached(g)
				return nil
			}
			outcomes[i] = s.settle(ctx, runCtx, cutoff, g)
			return nil
		})
	}
	_ = eg.Wait()

	report := &BatchReport{Cutoff: cutoff, Processed: outcomes}
	s.log.Info("payout batch finished", zap.Time("cutoff", cutoff), zap.Int("groups", len(outcomes)))
	return report, nil
}

func (s *PayoutService) deadlineReached(g *PayoutGroup) ProviderOutcome {
	s.log.Warn("payout deferred to next run", zap.String("provider_id", g.ProviderID))
	return ProviderOutcome{
		ProviderID:   g.ProviderID,
		Currency:     g.Currency,
		PaymentCount: len(g.PaymentIDs),
		Status:       PayoutOutcomeSkipped,
		Reason:       "payout run deadline reached",
	}
}

// settle records to the ledger with ctx; only the transfer is bounded by
// runCtx, so a payout that did go out is never left unrecorded by the deadline.
func (s *PayoutService) settle(ctx, runCtx context.Context, cutoff time.Time, g *PayoutGroup) ProviderOutcome {
	out := ProviderOutcome{
		ProviderID:   g.ProviderID,
		Currency:     g.Currency,
		PaymentCount: len(g.PaymentIDs),
	}
	g.IdempotencyKey = PayoutIdempotencyKey(g.ProviderID, cutoff, 1)

	if g.MixedCurrency {
		return s.fail(ctx, cutoff, g, out, ErrMixedCurrency.Error(), false)
	}

	total, err := fee.Total(g.Amounts)
	if err != nil {
		return s.fail(ctx, cutoff, g, out, fmt.Sprintf("sum provider amounts: %v", err), false)
	}
	out.Amount = total

	account, err := s.directory.GetPayoutAccount(ctx, g.ProviderID)
	switch {
	case errors.Is(err, repository.ErrProviderAccountNotFound):
		return s.fail(ctx, cutoff, g, out, ErrPayoutDestination.Error(), false)
	case err != nil:
		return s.fail(ctx, cutoff, g, out, fmt.Sprintf("payout directory lookup: %v", err), false)
	case !account.PayoutsEnabled:
		out.Status = PayoutOutcomeSkipped
		out.Reason = "payouts disabled for provider"
		s.log.Info("payout skipped", zap.String("provider_id", g.ProviderID))
		return out
	case account.Destination == "":
		return s.fail(ctx, cutoff, g, out, ErrPayoutDestination.Error(), false)
	}

	done, err := s.ledger.CountCompletedPayouts(ctx, g.ProviderID, cutoff)
	if err != nil {
		return s.fail(ctx, cutoff, g, out, fmt.Sprintf("count completed payouts: %v", err), false)
	}
	g.IdempotencyKey = PayoutIdempotencyKey(g.ProviderID, cutoff, int(done)+1)

	tctx, cancel := context.WithTimeout(runCtx, s.cfg.TransferTimeout)
	res, err := s.transfers.Transfer(tctx, gateway.TransferRequest{
		Amount:         total,
		Currency:       g.Currency,
		Destination:    account.Destination,
		IdempotencyKey: g.IdempotencyKey,
		Description:    fmt.Sprintf("Payout %s week of %s", g.ProviderID, cutoff.Format("2006-01-02")),
		Metadata: map[string]string{
			"provider_id":   g.ProviderID,
			"payment_count": fmt.Sprint(len(g.PaymentIDs)),
		},
	})
	cancel()
	if err != nil {
		var te *gateway.TransferError
		final := errors.As(err, &te) && !te.Retryable
		return s.fail(ctx, cutoff, g, out, err.Error(), final)
	}

	return s.complete(ctx, cutoff, g, out, res.Reference)
}

func (s *PayoutService) complete(ctx context.Context, cutoff time.Time, g *PayoutGroup, out ProviderOutcome, ref string) ProviderOutcome {
	out.Reference = ref
	err := s.ledger.InTx(ctx, func(tx repository.LedgerStore) error {
		n, err := tx.MarkPayoutCompleted(ctx, g.PaymentIDs, ref)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		var unsettled []string
		if int(n) != len(g.PaymentIDs) {
			// refunded between selection and settlement
			if unsettled, err = s.unsettled(ctx, tx, g.PaymentIDs, ref); err != nil {
				return err
			}
			s.log.Warn("payout covered payments that left the batch",
				zap.String("provider_id", g.ProviderID),
				zap.Strings("unsettled", unsettled),
				zap.Int64("updated", n),
				zap.String("reference", ref))
		}
		entry := s.payoutLog(cutoff, g, out.Amount, model.PayoutLogStatusCompleted, &ref, "")
		if len(unsettled) > 0 {
			ids, _ := json.Marshal(unsettled)
			entry.UnsettledPaymentIDs = datatypes.JSON(ids)
		}
		if err := tx.AppendPayoutLog(ctx, entry); err != nil {
			return fmt.Errorf("append payout log: %w", err)
		}
		out.Unsettled = unsettled
		return enqueuePayoutEvent(ctx, tx, s.cfg.Topic, payoutEvent{
			Event:      model.EventPayoutCompleted,
			ProviderID: g.ProviderID,
			Amount:     out.Amount,
			Currency:   g.Currency,
			PaymentIDs: g.PaymentIDs,
			Reference:  ref,
			Unsettled:  unsettled,
			OccurredAt: s.now().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		// The transfer went through; the next run in this week replays the
		// same idempotency key and gets this reference back.
		s.log.Error("payout transferred but ledger update failed",
			zap.String("provider_id", g.ProviderID),
			zap.String("reference", ref),
			zap.Error(err))
		out.Status = PayoutOutcomeError
		out.Reason = fmt.Sprintf("transfer %s succeeded but ledger update failed: %v", ref, err)
		return out
	}

	out.Status = PayoutOutcomeCompleted
	s.log.Info("payout completed",
		zap.String("provider_id", g.ProviderID),
		zap.Int64("amount", out.Amount),
		zap.String("reference", ref))
	return out
}

func (s *PayoutService) unsettled(ctx context.Context, tx repository.LedgerStore, ids []string, ref string) ([]string, error) {
	var out []string
	for _, id := range ids {
		p, err := tx.GetPayment(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reload payment %s: %w", id, err)
		}
		if p.PayoutReference == nil || *p.PayoutReference != ref {
			out = append(out, id)
		}
	}
	return out, nil
}

// fail records a failed group. A final failure exhausts the payments'
// attempts so they leave the eligible set for manual handling.
func (s *PayoutService) fail(ctx context.Context, cutoff time.Time, g *PayoutGroup, out ProviderOutcome, reason string, final bool) ProviderOutcome {
	out.Status = PayoutOutcomeError
	out.Reason = reason

	minAttempts := 0
	if final && s.cfg.MaxAttempts > 0 {
		minAttempts = s.cfg.MaxAttempts
	}
	err := s.ledger.InTx(ctx, func(tx repository.LedgerStore) error {
		if _, err := tx.MarkPayoutError(ctx, g.PaymentIDs, reason, minAttempts); err != nil {
			return fmt.Errorf("mark error: %w", err)
		}
		if err := tx.AppendPayoutLog(ctx, s.payoutLog(cutoff, g, out.Amount, model.PayoutLogStatusFailed, nil, reason)); err != nil {
			return fmt.Errorf("append payout log: %w", err)
		}
		return enqueuePayoutEvent(ctx, tx, s.cfg.Topic, payoutEvent{
			Event:      model.EventPayoutFailed,
			ProviderID: g.ProviderID,
			Amount:     out.Amount,
			Currency:   g.Currency,
			PaymentIDs: g.PaymentIDs,
			Error:      reason,
			OccurredAt: s.now().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		s.log.Error("record payout failure", zap.String("provider_id", g.ProviderID), zap.Error(err))
		out.Reason = fmt.Sprintf("%s (not recorded: %v)", reason, err)
	}

	s.log.Warn("payout failed", zap.String("provider_id", g.ProviderID), zap.String("reason", reason))
	return out
}

func (s *PayoutService) payoutLog(cutoff time.Time, g *PayoutGroup, total int64, status string, ref *string, errMsg string) *model.PayoutLog {
	// []string always marshals
	ids, _ := json.Marshal(g.PaymentIDs)
	return &model.PayoutLog{
		ProviderID:        g.ProviderID,
		TotalAmount:       total,
		Currency:          g.Currency,
		PaymentIDs:        datatypes.JSON(ids),
		Status:            status,
		Cutoff:            cutoff,
		IdempotencyKey:    g.IdempotencyKey,
		ExternalReference: ref,
		ErrorMessage:      errMsg,
	}
}

func (s *PayoutService) ListLogs(ctx context.Context, providerID string, limit int) ([]*model.PayoutLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledger.ListPayoutLogs(ctx, providerID, limit)
}
