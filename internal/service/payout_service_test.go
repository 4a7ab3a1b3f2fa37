package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"lexpay/internal/gateway"
	"lexpay/internal/infrastructure/lock"
	"lexpay/internal/model"
	"lexpay/internal/repository"
	"lexpay/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Wednesday; the Monday cutoff is 2024-05-13 00:00 UTC.
var payoutNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

var lastWeek = time.Date(2024, 5, 8, 10, 0, 0, 0, time.UTC)

type payoutFixture struct {
	svc       *PayoutService
	ledger    *repotest.MemoryLedger
	rail      *fakeRail
	directory *fakeDirectory
	locker    *lock.MemoryLocker
}

func newPayoutFixture(t *testing.T, cfg PayoutConfig) *payoutFixture {
	t.Helper()
	ledger := repotest.NewMemoryLedger()
	rail := newFakeRail()
	directory := newFakeDirectory()
	locker := lock.NewMemoryLocker()
	if cfg.WeekStart == 0 {
		cfg.WeekStart = time.Monday
	}
	if cfg.Topic == "" {
		cfg.Topic = "payment_events"
	}
	svc := NewPayoutService(ledger, rail, directory, locker, cfg, zap.NewNop())
	svc.now = func() time.Time { return payoutNow }
	return &payoutFixture{svc: svc, ledger: ledger, rail: rail, directory: directory, locker: locker}
}

func outcomeFor(t *testing.T, r *BatchReport, providerID string) ProviderOutcome {
	t.Helper()
	for _, o := range r.Processed {
		if o.ProviderID == providerID {
			return o
		}
	}
	t.Fatalf("no outcome for %s", providerID)
	return ProviderOutcome{}
}

func logIDs(t *testing.T, l *model.PayoutLog) []string {
	t.Helper()
	var ids []string
	require.NoError(t, json.Unmarshal(l.PaymentIDs, &ids))
	return ids
}

func TestWeekCutoff(t *testing.T) {
	mon := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, mon, WeekCutoff(payoutNow, time.Monday, time.UTC))
	assert.Equal(t, mon, WeekCutoff(mon, time.Monday, time.UTC))
	assert.Equal(t, mon, WeekCutoff(time.Date(2024, 5, 19, 23, 59, 0, 0, time.UTC), time.Monday, time.UTC))
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), WeekCutoff(payoutNow, time.Sunday, time.UTC))

	// 01:00 UTC Monday is still Sunday evening in UTC-3
	loc := time.FixedZone("UTC-3", -3*3600)
	got := WeekCutoff(time.Date(2024, 5, 13, 1, 0, 0, 0, time.UTC), time.Monday, loc)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, loc), got)
}

func TestPayout_SameProviderIsOneTransfer(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	seedPayment(t, f.ledger, succeededPayment("PAY2", "P1", 15000, lastWeek.Add(time.Hour)))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), report.Cutoff)

	calls := f.rail.transferCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(25000), calls[0].Amount)
	assert.Equal(t, "acct_p1", calls[0].Destination)
	assert.Equal(t, "payout:P1:2024-05-13", calls[0].IdempotencyKey)

	o := outcomeFor(t, report, "P1")
	assert.Equal(t, PayoutOutcomeCompleted, o.Status)
	assert.Equal(t, int64(25000), o.Amount)
	assert.Equal(t, 2, o.PaymentCount)
	assert.Equal(t, "tr_payout:P1:2024-05-13", o.Reference)

	logs := f.ledger.PayoutLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.PayoutLogStatusCompleted, logs[0].Status)
	assert.Equal(t, int64(25000), logs[0].TotalAmount)
	assert.Equal(t, []string{"PAY1", "PAY2"}, logIDs(t, logs[0]))
	require.NotNil(t, logs[0].ExternalReference)

	for _, id := range []string{"PAY1", "PAY2"} {
		p := f.ledger.Payment(id)
		assert.Equal(t, model.PayoutStatusCompleted, p.PayoutStatus)
		require.NotNil(t, p.PayoutReference)
		assert.Equal(t, "tr_payout:P1:2024-05-13", *p.PayoutReference)
	}
}

func TestPayout_PartialFailureIsolation(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{Concurrency: 2})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	seedPayment(t, f.ledger, succeededPayment("PAY2", "P2", 20000, lastWeek))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PayoutOutcomeCompleted, outcomeFor(t, report, "P1").Status)
	p2 := outcomeFor(t, report, "P2")
	assert.Equal(t, PayoutOutcomeError, p2.Status)
	assert.Equal(t, ErrPayoutDestination.Error(), p2.Reason)

	assert.Equal(t, model.PayoutStatusCompleted, f.ledger.Payment("PAY1").PayoutStatus)
	failed := f.ledger.Payment("PAY2")
	assert.Equal(t, model.PayoutStatusError, failed.PayoutStatus)
	assert.Equal(t, 1, failed.PayoutAttempts)
	assert.Equal(t, ErrPayoutDestination.Error(), failed.PayoutError)
	assert.Len(t, f.rail.transferCalls(), 1)

	// P2 fixes its account; the next run pays only P2
	f.directory.add("P2", "acct_p2", true)
	report, err = f.svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Processed, 1)
	assert.Equal(t, PayoutOutcomeCompleted, outcomeFor(t, report, "P2").Status)

	calls := f.rail.transferCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "acct_p2", calls[1].Destination)
	assert.Equal(t, model.PayoutStatusCompleted, f.ledger.Payment("PAY2").PayoutStatus)

	statuses := map[string][]string{}
	for _, l := range f.ledger.PayoutLogs() {
		statuses[l.ProviderID] = append(statuses[l.ProviderID], l.Status)
	}
	assert.Equal(t, []string{model.PayoutLogStatusCompleted}, statuses["P1"])
	assert.Equal(t, []string{model.PayoutLogStatusFailed, model.PayoutLogStatusCompleted}, statuses["P2"])
}

func TestPayout_GroupingCoversEveryEligiblePaymentOnce(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{Concurrency: 3})
	var eligibleTotal int64
	eligible := map[string]bool{}
	for i := 0; i < 12; i++ {
		provider := fmt.Sprintf("P%d", i%4)
		id := fmt.Sprintf("PAY%02d", i)
		amount := int64(1000 + 137*i)
		seedPayment(t, f.ledger, succeededPayment(id, provider, amount, lastWeek.Add(time.Duration(i)*time.Minute)))
		eligibleTotal += amount
		eligible[id] = true
	}
	for i := 0; i < 4; i++ {
		f.directory.add(fmt.Sprintf("P%d", i), fmt.Sprintf("acct_%d", i), true)
	}

	// not eligible: after cutoff, not succeeded, already paid
	seedPayment(t, f.ledger, succeededPayment("NEW", "P0", 5000, payoutNow.Add(-time.Hour)))
	seedPayment(t, f.ledger, model.Payment{ID: "PEND", ProviderID: "P0", ProviderAmount: 5000, Status: model.PaymentStatusPending, CreatedAt: lastWeek})
	paid := succeededPayment("PAID", "P1", 5000, lastWeek)
	paid.PayoutStatus = model.PayoutStatusCompleted
	seedPayment(t, f.ledger, paid)

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Processed, 4)

	var reported int64
	for _, o := range report.Processed {
		assert.Equal(t, PayoutOutcomeCompleted, o.Status)
		reported += o.Amount
	}
	assert.Equal(t, eligibleTotal, reported)

	var transferred int64
	for _, c := range f.rail.transferCalls() {
		transferred += c.Amount
	}
	assert.Equal(t, eligibleTotal, transferred)

	seen := map[string]int{}
	for _, l := range f.ledger.PayoutLogs() {
		for _, id := range logIDs(t, l) {
			seen[id]++
		}
	}
	assert.Len(t, seen, len(eligible))
	for id, n := range seen {
		assert.True(t, eligible[id], id)
		assert.Equal(t, 1, n, id)
	}
	assert.Equal(t, model.PayoutStatusPending, f.ledger.Payment("NEW").PayoutStatus)
}

func TestPayout_TransferFailureKeepsPaymentsEligible(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	f.rail.transferErr["acct_p1"] = &gateway.TransferError{StatusCode: 503, Message: "try later", Retryable: true}
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	o := outcomeFor(t, report, "P1")
	assert.Equal(t, PayoutOutcomeError, o.Status)
	assert.Contains(t, o.Reason, "503")

	logs := f.ledger.PayoutLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.PayoutLogStatusFailed, logs[0].Status)
	assert.Nil(t, logs[0].ExternalReference)
	assert.Contains(t, logs[0].ErrorMessage, "try later")

	out := f.ledger.Outbox()
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Payload, model.EventPayoutFailed)

	// the retry in the same week reuses the idempotency key
	delete(f.rail.transferErr, "acct_p1")
	_, err = f.svc.Run(context.Background())
	require.NoError(t, err)
	calls := f.rail.transferCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
	assert.Equal(t, model.PayoutStatusCompleted, f.ledger.Payment("PAY1").PayoutStatus)
}

func TestPayout_MaxAttemptsStopsRetrying(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{MaxAttempts: 2})
	p := succeededPayment("PAY1", "P1", 10000, lastWeek)
	p.PayoutStatus = model.PayoutStatusError
	p.PayoutAttempts = 2
	seedPayment(t, f.ledger, p)

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Processed)
	assert.Empty(t, f.rail.transferCalls())
}

func TestPayout_DisabledProviderIsSkipped(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", false)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PayoutOutcomeSkipped, outcomeFor(t, report, "P1").Status)

	assert.Equal(t, model.PayoutStatusPending, f.ledger.Payment("PAY1").PayoutStatus)
	assert.Empty(t, f.ledger.PayoutLogs())
	assert.Empty(t, f.rail.transferCalls())
}

func TestPayout_MixedCurrencyFailsGroup(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	usd := succeededPayment("PAY2", "P1", 500, lastWeek.Add(time.Minute))
	usd.Currency = "USD"
	seedPayment(t, f.ledger, usd)

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	o := outcomeFor(t, report, "P1")
	assert.Equal(t, PayoutOutcomeError, o.Status)
	assert.Equal(t, ErrMixedCurrency.Error(), o.Reason)
	assert.Empty(t, f.rail.transferCalls())
	assert.Equal(t, model.PayoutStatusError, f.ledger.Payment("PAY2").PayoutStatus)
}

func TestPayout_ConcurrentRunRejected(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	release, err := f.locker.Acquire(context.Background(), PayoutRunLockKey, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrBatchInProgress)

	require.NoError(t, release(context.Background()))
	_, err = f.svc.Run(context.Background())
	assert.NoError(t, err)
}

func TestPayout_LedgerReadFailureFailsRun(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.ledger.SetFault("ListPayoutEligible", errors.New("db down"))

	_, err := f.svc.Run(context.Background())
	assert.Error(t, err)

	// the lock was released
	_, err = f.locker.Acquire(context.Background(), PayoutRunLockKey, time.Minute)
	assert.NoError(t, err)
}

func TestPayout_LedgerWriteFailureAfterTransfer(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	f.ledger.SetFault("AppendPayoutLog", errors.New("db down"))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	o := outcomeFor(t, report, "P1")
	assert.Equal(t, PayoutOutcomeError, o.Status)
	assert.Equal(t, "tr_payout:P1:2024-05-13", o.Reference)
	// rolled back, so still eligible for the same-key replay
	assert.Equal(t, model.PayoutStatusPending, f.ledger.Payment("PAY1").PayoutStatus)
}

func TestPayoutIdempotencyKey(t *testing.T) {
	cutoff := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "payout:P1:2024-05-13", PayoutIdempotencyKey("P1", cutoff, 1))
	assert.Equal(t, "payout:P1:2024-05-13", PayoutIdempotencyKey("P1", cutoff, 0))
	assert.Equal(t, "payout:P1:2024-05-13:3", PayoutIdempotencyKey("P1", cutoff, 3))
}

func TestPayout_SameWeekRerunPaysLatePayments(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	// settled by a late webhook after the first run, created before the cutoff
	seedPayment(t, f.ledger, succeededPayment("PAY3", "P1", 15000, lastWeek.Add(time.Hour)))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	o := outcomeFor(t, report, "P1")
	assert.Equal(t, PayoutOutcomeCompleted, o.Status)
	assert.Equal(t, int64(15000), o.Amount)
	assert.Equal(t, "tr_payout:P1:2024-05-13:2", o.Reference)

	calls := f.rail.transferCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "payout:P1:2024-05-13", calls[0].IdempotencyKey)
	assert.Equal(t, "payout:P1:2024-05-13:2", calls[1].IdempotencyKey)
	assert.Equal(t, int64(15000), calls[1].Amount)
	assert.Len(t, f.rail.paid, 2)

	assert.Equal(t, "tr_payout:P1:2024-05-13", *f.ledger.Payment("PAY1").PayoutReference)
	late := f.ledger.Payment("PAY3")
	assert.Equal(t, model.PayoutStatusCompleted, late.PayoutStatus)
	require.NotNil(t, late.PayoutReference)
	assert.Equal(t, "tr_payout:P1:2024-05-13:2", *late.PayoutReference)

	logs := f.ledger.PayoutLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "payout:P1:2024-05-13:2", logs[1].IdempotencyKey)
	assert.Equal(t, []string{"PAY3"}, logIDs(t, logs[1]))
}

func TestPayout_CompletedLookupFailureFailsGroup(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	f.ledger.SetFault("CountCompletedPayouts", errors.New("db down"))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PayoutOutcomeError, outcomeFor(t, report, "P1").Status)
	assert.Empty(t, f.rail.transferCalls())
	assert.Equal(t, model.PayoutStatusError, f.ledger.Payment("PAY1").PayoutStatus)
}

func TestPayout_PermanentTransferErrorExhaustsAttempts(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{MaxAttempts: 5})
	f.directory.add("P1", "acct_p1", true)
	f.rail.transferErr["acct_p1"] = &gateway.TransferError{StatusCode: 400, Code: "account_closed", Message: "destination closed"}
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PayoutOutcomeError, outcomeFor(t, report, "P1").Status)

	p := f.ledger.Payment("PAY1")
	assert.Equal(t, model.PayoutStatusError, p.PayoutStatus)
	assert.Equal(t, 5, p.PayoutAttempts)
	assert.Contains(t, p.PayoutError, "account_closed")

	delete(f.rail.transferErr, "acct_p1")
	report, err = f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Processed)
	assert.Len(t, f.rail.transferCalls(), 1)
}

func TestPayout_RetryableTransferErrorCountsOneAttempt(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{MaxAttempts: 5})
	f.directory.add("P1", "acct_p1", true)
	f.rail.transferErr["acct_p1"] = fmt.Errorf("wrapped: %w", &gateway.TransferError{StatusCode: 502, Message: "bad gateway", Retryable: true})
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ledger.Payment("PAY1").PayoutAttempts)
}

func TestPayout_LockTTLBoundsTheRun(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{LockTTL: 50 * time.Millisecond})
	f.directory.add("P1", "acct_p1", true)
	f.directory.add("P2", "acct_p2", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	seedPayment(t, f.ledger, succeededPayment("PAY2", "P2", 20000, lastWeek.Add(time.Hour)))
	f.rail.transferHook = func(ctx context.Context, req gateway.TransferRequest) error {
		if req.Destination != "acct_p1" {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	p1 := outcomeFor(t, report, "P1")
	assert.Equal(t, PayoutOutcomeError, p1.Status)
	assert.Contains(t, p1.Reason, context.DeadlineExceeded.Error())
	assert.Equal(t, model.PayoutStatusError, f.ledger.Payment("PAY1").PayoutStatus)

	p2 := outcomeFor(t, report, "P2")
	assert.Equal(t, PayoutOutcomeSkipped, p2.Status)
	assert.Equal(t, "payout run deadline reached", p2.Reason)
	untouched := f.ledger.Payment("PAY2")
	assert.Equal(t, model.PayoutStatusPending, untouched.PayoutStatus)
	assert.Zero(t, untouched.PayoutAttempts)

	require.Len(t, f.rail.transferCalls(), 1)
	assert.Len(t, f.ledger.PayoutLogs(), 1)
}

func TestPayout_RecordsPaymentsRefundedDuringTransfer(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	seedPayment(t, f.ledger, succeededPayment("PAY2", "P1", 15000, lastWeek.Add(time.Hour)))
	f.rail.transferHook = func(ctx context.Context, _ gateway.TransferRequest) error {
		return f.ledger.TransitionStatus(ctx, repository.StatusTransition{
			PaymentID:    "PAY2",
			From:         model.PaymentStatusSucceeded,
			To:           model.PaymentStatusRefunded,
			PayoutStatus: model.PayoutStatusNotApplicable,
			At:           payoutNow,
		})
	}

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	o := outcomeFor(t, report, "P1")
	assert.Equal(t, PayoutOutcomeCompleted, o.Status)
	assert.Equal(t, int64(25000), o.Amount)
	assert.Equal(t, []string{"PAY2"}, o.Unsettled)

	assert.Equal(t, model.PayoutStatusCompleted, f.ledger.Payment("PAY1").PayoutStatus)
	refunded := f.ledger.Payment("PAY2")
	assert.Equal(t, model.PaymentStatusRefunded, refunded.Status)
	assert.Nil(t, refunded.PayoutReference)

	logs := f.ledger.PayoutLogs()
	require.Len(t, logs, 1)
	var unsettled []string
	require.NoError(t, json.Unmarshal(logs[0].UnsettledPaymentIDs, &unsettled))
	assert.Equal(t, []string{"PAY2"}, unsettled)

	out := f.ledger.Outbox()
	require.NotEmpty(t, out)
	assert.Contains(t, out[len(out)-1].Payload, `"unsettled_payment_ids":["PAY2"]`)
}

func TestGroupPayments_PreservesOrder(t *testing.T) {
	groups := GroupPayments([]*model.Payment{
		{ID: "a", ProviderID: "P2", ProviderAmount: 1, Currency: "ARS"},
		{ID: "b", ProviderID: "P1", ProviderAmount: 2, Currency: "ARS"},
		{ID: "c", ProviderID: "P2", ProviderAmount: 3, Currency: "ARS"},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "P2", groups[0].ProviderID)
	assert.Equal(t, []string{"a", "c"}, groups[0].PaymentIDs)
	assert.Equal(t, []int64{1, 3}, groups[0].Amounts)
	assert.Equal(t, []string{"b"}, groups[1].PaymentIDs)
}

func TestListLogs(t *testing.T) {
	f := newPayoutFixture(t, PayoutConfig{})
	f.directory.add("P1", "acct_p1", true)
	seedPayment(t, f.ledger, succeededPayment("PAY1", "P1", 10000, lastWeek))
	seedPayment(t, f.ledger, succeededPayment("PAY2", "P2", 10000, lastWeek))
	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	logs, err := f.svc.ListLogs(context.Background(), "P2", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.PayoutLogStatusFailed, logs[0].Status)

	all, err := f.svc.ListLogs(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
