package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"lexpay/internal/fee"
	"lexpay/internal/gateway"
	"lexpay/internal/model"
	"lexpay/internal/repository"
	"lexpay/internal/repository/repotest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeRail is a PaymentGateway and TransferClient double. Webhook bodies are
// plain JSON gateway events; the X-Test-Sig header must be "ok".
type fakeRail struct {
	mu sync.Mutex

	checkoutErr error
	refundErr   error
	transferErr map[string]error // by destination
	// transferHook runs outside mu before the transfer is decided.
	transferHook func(ctx context.Context, req gateway.TransferRequest) error

	checkouts []gateway.CheckoutRequest
	refunds   []gateway.RefundRequest
	transfers []gateway.TransferRequest
	// paid replays like an idempotent rail: a key that succeeded once
	// returns its first result and moves no more money.
	paid map[string]gateway.TransferRequest
}

func newFakeRail() *fakeRail {
	return &fakeRail{
		transferErr: make(map[string]error),
		paid:        make(map[string]gateway.TransferRequest),
	}
}

func (f *fakeRail) Name() string { return "fake" }

func (f *fakeRail) CreateCheckout(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, req)
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return &gateway.CheckoutSession{
		ID:          "sess_" + req.PaymentID,
		RedirectURL: "https://rail.test/pay/" + req.PaymentID,
	}, nil
}

func (f *fakeRail) Refund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &gateway.RefundResult{ID: "rf_" + req.PaymentID, Status: "succeeded"}, nil
}

func (f *fakeRail) Transfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	if f.transferHook != nil {
		if err := f.transferHook(ctx, req); err != nil {
			f.mu.Lock()
			f.transfers = append(f.transfers, req)
			f.mu.Unlock()
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, req)
	if _, ok := f.paid[req.IdempotencyKey]; ok {
		return &gateway.TransferResult{Reference: "tr_" + req.IdempotencyKey}, nil
	}
	if err := f.transferErr[req.Destination]; err != nil {
		return nil, err
	}
	f.paid[req.IdempotencyKey] = req
	return &gateway.TransferResult{Reference: "tr_" + req.IdempotencyKey}, nil
}

type testEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

func (f *fakeRail) ParseWebhook(header http.Header, body []byte) (*gateway.Event, error) {
	if header.Get("X-Test-Sig") != "ok" {
		return nil, gateway.ErrInvalidSignature
	}
	var ev testEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedEvent, err)
	}
	return &gateway.Event{
		ID:        ev.ID,
		Type:      ev.Type,
		SessionID: ev.SessionID,
		PaymentID: ev.PaymentID,
		Status:    ev.Status,
		Raw:       body,
	}, nil
}

func (f *fakeRail) transferCalls() []gateway.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.TransferRequest(nil), f.transfers...)
}

type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[string]*model.ProviderAccount
	err      error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{accounts: make(map[string]*model.ProviderAccount)}
}

func (d *fakeDirectory) add(providerID, destination string, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[providerID] = &model.ProviderAccount{ProviderID: providerID, Destination: destination, PayoutsEnabled: enabled}
}

func (d *fakeDirectory) GetPayoutAccount(_ context.Context, providerID string) (*model.ProviderAccount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	a, ok := d.accounts[providerID]
	if !ok {
		return nil, repository.ErrProviderAccountNotFound
	}
	cp := *a
	return &cp, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) PaymentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("PAY%04d", s.n)
}

func testCalculator(t *testing.T) *fee.Calculator {
	t.Helper()
	calc, err := fee.NewCalculator(decimal.NewFromInt(10), decimal.NewFromInt(20), 1000)
	require.NoError(t, err)
	return calc
}

func strPtr(s string) *string { return &s }

// seedPayment stores a payment in the given state, bypassing checkout.
func seedPayment(t *testing.T, l *repotest.MemoryLedger, p model.Payment) *model.Payment {
	t.Helper()
	if p.Currency == "" {
		p.Currency = "ARS"
	}
	if p.ClientID == "" {
		p.ClientID = "C1"
	}
	if p.PayoutStatus == "" {
		p.PayoutStatus = model.PayoutStatusNotApplicable
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = time.Now().Add(time.Hour)
	}
	require.NoError(t, l.CreatePayment(context.Background(), &p))
	return &p
}

func succeededPayment(id, provider string, providerAmount int64, createdAt time.Time) model.Payment {
	return model.Payment{
		ID:             id,
		ProviderID:     provider,
		GrossAmount:    providerAmount,
		ProviderAmount: providerAmount,
		ClientAmount:   providerAmount,
		Status:         model.PaymentStatusSucceeded,
		PayoutStatus:   model.PayoutStatusPending,
		CreatedAt:      createdAt,
	}
}
