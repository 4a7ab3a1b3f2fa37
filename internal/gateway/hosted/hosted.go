// Package hosted is a rail that exposes a hosted "preference" checkout over
// a plain REST API and signs its notifications with an HMAC header
// (t=<unix>,v1=<hex hmac-sha256(t + "." + body)>). It is also what the
// sandbox environment points at.
package hosted

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lexpay/internal/gateway"
	"lexpay/internal/model"
)

const (
	Name            = "hosted"
	SignatureHeader = "X-Signature"
)

type Config struct {
	BaseURL            string
	AccessToken        string
	WebhookSecret      string
	NotificationURL    string
	Timeout            time.Duration
	SignatureTolerance time.Duration
}

type Gateway struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

var (
	_ gateway.PaymentGateway = (*Gateway)(nil)
	_ gateway.TransferClient = (*Gateway)(nil)
)

func New(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = 5 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

func (g *Gateway) Name() string {
	return Name
}

// ---- API request/response structs ----

type preferenceItem struct {
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"`
	CurrencyID string `json:"currency_id"`
}

type preferencePayer struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferenceRequest struct {
	ExternalReference string             `json:"external_reference"`
	Items             []preferenceItem   `json:"items"`
	Payer             preferencePayer    `json:"payer"`
	BackURLs          preferenceBackURLs `json:"back_urls"`
	NotificationURL   string             `json:"notification_url,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type transferRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type transferResponse struct {
	ID string `json:"id"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID string `json:"session_id"`
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	} `json:"data"`
}

// APIError is any non-2xx answer from the rail.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hosted rail returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (g *Gateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	body := preferenceRequest{
		ExternalReference: req.PaymentID,
		Items: []preferenceItem{{
			Title:      req.Description,
			Quantity:   1,
			UnitAmount: req.Amount,
			CurrencyID: req.Currency,
		}},
		Payer:           preferencePayer{Email: req.ClientEmail, Name: req.ClientName},
		BackURLs:        preferenceBackURLs{Success: req.SuccessURL, Failure: req.FailureURL, Pending: req.PendingURL},
		NotificationURL: g.cfg.NotificationURL,
	}

	var resp preferenceResponse
	if err := g.do(ctx, http.MethodPost, "/v1/checkout/preferences", req.IdempotencyKey, body, &resp); err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}
	if resp.ID == "" || resp.InitPoint == "" {
		return nil, fmt.Errorf("create preference: incomplete response")
	}
	return &gateway.CheckoutSession{ID: resp.ID, RedirectURL: resp.InitPoint}, nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if req.ExternalPaymentID == "" {
		return nil, fmt.Errorf("refund: rail payment id unknown")
	}
	path := "/v1/payments/" + url.PathEscape(req.ExternalPaymentID) + "/refunds"

	var resp refundResponse
	if err := g.do(ctx, http.MethodPost, path, req.IdempotencyKey, refundRequest{Amount: req.Amount, Reason: req.Reason}, &resp); err != nil {
		return nil, fmt.Errorf("refund: %w", err)
	}
	return &gateway.RefundResult{ID: resp.ID, Status: resp.Status}, nil
}

func (g *Gateway) Transfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	body := transferRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Destination: req.Destination,
		Description: req.Description,
		Metadata:    req.Metadata,
	}

	var resp transferResponse
	if err := g.do(ctx, http.MethodPost, "/v1/transfers", req.IdempotencyKey, body, &resp); err != nil {
		if apiErr, ok := err.(*APIError); ok {
			return nil, &gateway.TransferError{
				StatusCode: apiErr.StatusCode,
				Code:       apiErr.Code,
				Message:    apiErr.Message,
				Retryable:  apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500,
			}
		}
		return nil, &gateway.TransferError{Message: err.Error(), Retryable: true}
	}
	if resp.ID == "" {
		return nil, &gateway.TransferError{Message: "transfer response without id", Retryable: true}
	}
	return &gateway.TransferResult{Reference: resp.ID}, nil
}

func (g *Gateway) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.AccessToken)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var body apiErrorBody
		if json.Unmarshal(raw, &body) == nil && body.Message != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (g *Gateway) ParseWebhook(header http.Header, body []byte) (*gateway.Event, error) {
	if err := g.verify(header.Get(SignatureHeader), body); err != nil {
		return nil, err
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedEvent, err)
	}
	if n.ID == "" || n.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", gateway.ErrMalformedEvent)
	}

	return &gateway.Event{
		ID:        n.ID,
		Type:      n.Type,
		SessionID: n.Data.SessionID,
		PaymentID: n.Data.PaymentID,
		Status:    MapStatus(n.Data.Status),
		Raw:       body,
	}, nil
}

// MapStatus maps the rail's payment vocabulary onto ledger statuses.
func MapStatus(s string) string {
	switch strings.ToLower(s) {
	case "approved", "paid", "succeeded":
		return model.PaymentStatusSucceeded
	case "rejected", "cancelled", "canceled", "expired", "failed":
		return model.PaymentStatusFailed
	case "refunded", "charged_back":
		return model.PaymentStatusRefunded
	default:
		// pending, in_process, authorized: no ledger change yet
		return ""
	}
}

func (g *Gateway) verify(header string, body []byte) error {
	if header == "" || g.cfg.WebhookSecret == "" {
		return gateway.ErrInvalidSignature
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return gateway.ErrInvalidSignature
			}
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return gateway.ErrInvalidSignature
	}

	age := g.now().Sub(time.Unix(ts, 0))
	if age > g.cfg.SignatureTolerance || age < -g.cfg.SignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", gateway.ErrInvalidSignature)
	}

	expected, err := hex.DecodeString(sig)
	if err != nil {
		return gateway.ErrInvalidSignature
	}
	if !hmac.Equal(expected, Sign([]byte(g.cfg.WebhookSecret), ts, body)) {
		return gateway.ErrInvalidSignature
	}
	return nil
}

// Sign computes the raw v1 signature. Exported for the sandbox tooling and tests.
func Sign(secret []byte, ts int64, body []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}

// SignatureHeaderValue builds the X-Signature header for body at ts.
func SignatureHeaderValue(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(Sign([]byte(secret), ts, body)))
}
