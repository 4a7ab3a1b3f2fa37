// Package gateway defines the boundary to external payment rails. Each rail
// is a strategy behind PaymentGateway (collecting money) and TransferClient
// (paying providers out); the concrete rail is picked by configuration.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook payload")
)

type CheckoutRequest struct {
	PaymentID      string
	Amount         int64
	Currency       string
	Description    string
	ClientEmail    string
	ClientName     string
	SuccessURL     string
	FailureURL     string
	PendingURL     string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID          string
	RedirectURL string
}

type RefundRequest struct {
	PaymentID         string
	ExternalPaymentID string
	ExternalSessionID string
	Amount            int64
	Currency          string
	Reason            string
	IdempotencyKey    string
}

type RefundResult struct {
	ID     string
	Status string
}

// Event is a verified rail notification normalized to ledger vocabulary.
// Status is the target payment status, or "" when the event carries no
// state change (informational, partial refunds, unknown types).
type Event struct {
	ID        string
	Type      string
	SessionID string
	PaymentID string
	Status    string
	Raw       []byte
}

type PaymentGateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// ParseWebhook verifies the signature before decoding anything.
	ParseWebhook(header http.Header, body []byte) (*Event, error)
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

type TransferResult struct {
	Reference string
}

// TransferClient moves money to a provider. Implementations pass the
// idempotency key through untouched and surface every non-success response
// as *TransferError.
type TransferClient interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type TransferError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *TransferError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transfer failed: %s", e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("transfer failed: status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("transfer failed: status %d: %s", e.StatusCode, e.Message)
}
