package service

import (
	"context"
	"time"

	"lexpay/internal/model"
	"lexpay/internal/repository"
)

type PaymentService struct {
	ledger repository.LedgerStore
}

func NewPaymentService(ledger repository.LedgerStore) *PaymentService {
	return &PaymentService{ledger: ledger}
}

type PaymentView struct {
	ID              string  `json:"paymentId"`
	ClientID        string  `json:"clientId"`
	ProviderID      string  `json:"providerId"`
	Status          string  `json:"status"`
	PayoutStatus    string  `json:"payoutStatus"`
	Currency        string  `json:"currency"`
	ClientAmount    int64   `json:"clientAmount"`
	GrossAmount     int64   `json:"grossAmount"`
	ProviderAmount  int64   `json:"providerAmount"`
	PlatformFee     int64   `json:"platformFee"`
	ClientSurcharge int64   `json:"clientSurcharge"`
	PaymentLink     string  `json:"paymentLink,omitempty"`
	PayoutReference *string `json:"payoutReference,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

func NewPaymentView(p *model.Payment) *PaymentView {
	return &PaymentView{
		ID:              p.ID,
		ClientID:        p.ClientID,
		ProviderID:      p.ProviderID,
		Status:          p.Status,
		PayoutStatus:    p.PayoutStatus,
		Currency:        p.Currency,
		ClientAmount:    p.ClientAmount,
		GrossAmount:     p.GrossAmount,
		ProviderAmount:  p.ProviderAmount,
		PlatformFee:     p.PlatformFee,
		ClientSurcharge: p.ClientSurcharge,
		PaymentLink:     p.CheckoutURL,
		PayoutReference: p.PayoutReference,
		CreatedAt:       p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *PaymentService) Get(ctx context.Context, id string) (*PaymentView, error) {
	p, err := s.ledger.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewPaymentView(p), nil
}
