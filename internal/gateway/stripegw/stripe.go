// Package stripegw is the Stripe rail: Checkout Sessions for collection,
// Connect transfers for provider payouts.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lexpay/internal/gateway"
	"lexpay/internal/model"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

const Name = "stripe"

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint (stripe-mock, tests).
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int64
}

type Gateway struct {
	api           *client.API
	webhookSecret string
}

var (
	_ gateway.PaymentGateway = (*Gateway)(nil)
	_ gateway.TransferClient = (*Gateway)(nil)
)

func New(cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &Gateway{api: api, webhookSecret: cfg.WebhookSecret}
}

func (g *Gateway) Name() string {
	return Name
}

func (g *Gateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.FailureURL),
		ClientReferenceID: stripe.String(req.PaymentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(req.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"payment_id": req.PaymentID},
		},
	}
	if req.ClientEmail != "" {
		params.CustomerEmail = stripe.String(req.ClientEmail)
	}
	params.AddMetadata("payment_id", req.PaymentID)
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &gateway.CheckoutSession{ID: sess.ID, RedirectURL: sess.URL}, nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if req.ExternalPaymentID == "" {
		return nil, errors.New("stripe refund: payment intent id unknown")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ExternalPaymentID),
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.AddMetadata("payment_id", req.PaymentID)
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe refund: %w", err)
	}
	return &gateway.RefundResult{ID: r.ID, Status: string(r.Status)}, nil
}

func (g *Gateway) Transfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, toTransferError(err)
	}
	return &gateway.TransferResult{Reference: tr.ID}, nil
}

func toTransferError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &gateway.TransferError{
			StatusCode: se.HTTPStatusCode,
			Code:       string(se.Code),
			Message:    se.Msg,
			Retryable:  se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500,
		}
	}
	return &gateway.TransferError{Message: err.Error(), Retryable: true}
}

func (g *Gateway) ParseWebhook(header http.Header, body []byte) (*gateway.Event, error) {
	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return nil, gateway.ErrMalformedEvent
	}

	ev := &gateway.Event{ID: event.ID, Type: string(event.Type), Raw: body}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedEvent, err)
		}
		ev.SessionID = sess.ID
		if sess.PaymentIntent != nil {
			ev.PaymentID = sess.PaymentIntent.ID
		}
		ev.Status = sessionStatus(string(event.Type), sess.PaymentStatus)

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedEvent, err)
		}
		// A declined attempt leaves the Checkout session open for another
		// try, so this carries no status; expiry or async failure ends it.
		ev.PaymentID = pi.ID

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedEvent, err)
		}
		if ch.PaymentIntent != nil {
			ev.PaymentID = ch.PaymentIntent.ID
		}
		// partial refunds leave the payment succeeded
		if ch.Refunded {
			ev.Status = model.PaymentStatusRefunded
		}
	}

	return ev, nil
}

func sessionStatus(eventType string, paymentStatus stripe.CheckoutSessionPaymentStatus) string {
	switch eventType {
	case "checkout.session.completed":
		if paymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			paymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			return model.PaymentStatusSucceeded
		}
		// delayed methods settle later via async_payment_*
		return ""
	case "checkout.session.async_payment_succeeded":
		return model.PaymentStatusSucceeded
	default:
		return model.PaymentStatusFailed
	}
}
