package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lexpay/internal/config"
	"lexpay/internal/gateway"
	"lexpay/internal/model"
	"lexpay/internal/repository"
	"lexpay/internal/service"
	"lexpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "s3cret"

type stubCheckout struct {
	got *service.CheckoutRequest
	res *service.CheckoutResponse
	err error
}

func (s *stubCheckout) CreateCheckout(_ context.Context, req *service.CheckoutRequest) (*service.CheckoutResponse, error) {
	s.got = req
	return s.res, s.err
}

type stubPayments struct {
	view *service.PaymentView
	err  error
}

func (s *stubPayments) Get(_ context.Context, id string) (*service.PaymentView, error) {
	return s.view, s.err
}

type stubRefunds struct {
	p     *model.Payment
	err   error
	calls int
}

func (s *stubRefunds) Refund(_ context.Context, id string, _ *service.RefundRequest) (*model.Payment, error) {
	s.calls++
	return s.p, s.err
}

type stubWebhooks struct {
	outcome service.WebhookOutcome
	err     error
	body    []byte
}

func (s *stubWebhooks) Handle(_ context.Context, _ http.Header, body []byte) (service.WebhookOutcome, error) {
	s.body = body
	return s.outcome, s.err
}

type stubPayouts struct {
	report   *service.BatchReport
	err      error
	logs     []*model.PayoutLog
	gotLimit int
	gotProv  string
}

func (s *stubPayouts) Run(context.Context) (*service.BatchReport, error) {
	return s.report, s.err
}

func (s *stubPayouts) ListLogs(_ context.Context, providerID string, limit int) ([]*model.PayoutLog, error) {
	s.gotProv, s.gotLimit = providerID, limit
	return s.logs, nil
}

type fixture struct {
	checkout *stubCheckout
	payments *stubPayments
	refunds  *stubRefunds
	webhooks *stubWebhooks
	payouts  *stubPayouts
	router   *gin.Engine
}

func newFixture(server config.ServerConfig) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		checkout: &stubCheckout{},
		payments: &stubPayments{},
		refunds:  &stubRefunds{},
		webhooks: &stubWebhooks{},
		payouts:  &stubPayouts{},
	}
	h := NewHandler(Services{
		Checkout: f.checkout,
		Payments: f.payments,
		Refunds:  f.refunds,
		Webhooks: f.webhooks,
		Payouts:  f.payouts,
	}, zap.NewNop())
	f.router = SetupRouter(h, server, testSecret, zap.NewNop())
	return f
}

func (f *fixture) do(method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

const validCheckout = `{"amount":11000,"description":"consultation","clientId":"C1","providerId":"P1","clientEmail":"c@example.com"}`

func TestCreatePayment(t *testing.T) {
	f := newFixture(config.ServerConfig{})
	f.checkout.res = &service.CheckoutResponse{PaymentID: "PAY1", PaymentLink: "https://rail/checkout/1"}

	w := f.do(http.MethodPost, "/payments", validCheckout, map[string]string{"Idempotency-Key": "booking-7"})

	require.Equal(t, http.StatusOK, w.Code)
	var res map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "PAY1", res["paymentId"])
	assert.Equal(t, "https://rail/checkout/1", res["paymentLink"])
	assert.Equal(t, "booking-7", f.checkout.got.IdempotencyKey)
	assert.Equal(t, int64(11000), f.checkout.got.Amount)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestCreatePayment_Errors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{"missing fields", `{"amount":11000}`, nil, http.StatusBadRequest, ""},
		{"bad json", `{`, nil, http.StatusBadRequest, ""},
		{"validation", validCheckout, fmt.Errorf("%w: amount too small", service.ErrInvalidRequest), http.StatusBadRequest, ""},
		{"in flight", validCheckout, service.ErrCheckoutInFlight, http.StatusConflict, ""},
		{"key reuse", validCheckout, service.ErrIdempotencyReuse, http.StatusConflict, ""},
		{"rail down", validCheckout, fmt.Errorf("%w: timeout", service.ErrRailUnavailable), http.StatusInternalServerError, "could not start payment"},
		{"db down", validCheckout, errors.New("connection refused"), http.StatusInternalServerError, "could not start payment"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(config.ServerConfig{})
			f.checkout.err = tc.err

			w := f.do(http.MethodPost, "/payments", tc.body, nil)

			assert.Equal(t, tc.status, w.Code)
			if tc.msg != "" {
				var body response.ErrorBody
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tc.msg, body.Error)
			}
		})
	}
}

func TestCreatePayment_RateLimited(t *testing.T) {
	f := newFixture(config.ServerConfig{RateLimit: 0.001, RateBurst: 1})
	f.checkout.res = &service.CheckoutResponse{PaymentID: "PAY1"}

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/payments", validCheckout, nil).Code)
	w := f.do(http.MethodPost, "/payments", validCheckout, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeRateLimited, errorCode(t, w))

	// other routes are not limited
	f.payments.view = &service.PaymentView{ID: "PAY1"}
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/payments/PAY1", "", nil).Code)
}

func TestGetPayment(t *testing.T) {
	f := newFixture(config.ServerConfig{})
	f.payments.view = &service.PaymentView{ID: "PAY1", Status: model.PaymentStatusSucceeded}

	w := f.do(http.MethodGet, "/payments/PAY1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"paymentId":"PAY1"`)

	f.payments.err = repository.ErrPaymentNotFound
	w = f.do(http.MethodGet, "/payments/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefundPayment(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", repository.ErrPaymentNotFound, http.StatusNotFound},
		{"not refundable", service.ErrNotRefundable, http.StatusConflict},
		{"rail refused", fmt.Errorf("%w: card_declined", service.ErrRefundFailed), http.StatusBadGateway},
		{"db", errors.New("deadlock"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(config.ServerConfig{})
			f.refunds.p = &model.Payment{ID: "PAY1", Status: model.PaymentStatusRefunded, PayoutStatus: model.PayoutStatusNotApplicable}
			f.refunds.err = tc.err

			w := f.do(http.MethodPost, "/payments/PAY1/refund", `{"reason":"client cancelled"}`,
				map[string]string{PayoutSecretHeader: testSecret})
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRefundPayment_RequiresOperatorSecret(t *testing.T) {
	f := newFixture(config.ServerConfig{})
	f.refunds.p = &model.Payment{ID: "PAY1", Status: model.PaymentStatusRefunded}

	w := f.do(http.MethodPost, "/payments/PAY1/refund", `{"reason":"client cancelled"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/payments/PAY1/refund", `{"reason":"client cancelled"}`,
		map[string]string{PayoutSecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, f.refunds.calls)
}

func TestPaymentWebhook(t *testing.T) {
	cases := []struct {
		name    string
		outcome service.WebhookOutcome
		err     error
		status  int
	}{
		{"applied", service.WebhookApplied, nil, http.StatusOK},
		{"duplicate", service.WebhookDuplicate, nil, http.StatusOK},
		{"ignored", service.WebhookIgnored, nil, http.StatusOK},
		{"bad signature", "", gateway.ErrInvalidSignature, http.StatusBadRequest},
		{"malformed", "", fmt.Errorf("%w: no id", gateway.ErrMalformedEvent), http.StatusBadRequest},
		{"ledger failure", "", errors.New("apply event: deadlock"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(config.ServerConfig{})
			f.webhooks.outcome, f.webhooks.err = tc.outcome, tc.err

			w := f.do(http.MethodPost, "/webhooks/payment-rail", `{"id":"evt_1"}`, nil)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, `{"id":"evt_1"}`, string(f.webhooks.body))
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"received":true}`, w.Body.String())
			}
		})
	}
}

func TestRunPayouts(t *testing.T) {
	f := newFixture(config.ServerConfig{})
	f.payouts.report = &service.BatchReport{
		Cutoff: time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC),
		Processed: []service.ProviderOutcome{
			{ProviderID: "P1", Status: service.PayoutOutcomeCompleted, Amount: 16000, Currency: "ARS", PaymentCount: 2, Reference: "tr_1"},
			{ProviderID: "P2", Status: service.PayoutOutcomeError, Reason: "destination missing", Amount: 8000, Currency: "ARS", PaymentCount: 1},
		},
	}

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/payouts/run", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/payouts/run", "", map[string]string{PayoutSecretHeader: "wrong"}).Code)

	w := f.do(http.MethodPost, "/payouts/run", "", map[string]string{PayoutSecretHeader: testSecret})
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Cutoff    time.Time `json:"cutoff"`
		Processed []map[string]interface{}
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Processed, 2)
	assert.Equal(t, "P1", report.Processed[0]["providerId"])
	assert.Equal(t, "tr_1", report.Processed[0]["reference"])
	assert.Equal(t, "destination missing", report.Processed[1]["reason"])

	f.payouts.err = service.ErrBatchInProgress
	w = f.do(http.MethodPost, "/payouts/run", "", map[string]string{PayoutSecretHeader: testSecret})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeBatchInProgress, errorCode(t, w))
}

func TestListPayoutLogs(t *testing.T) {
	f := newFixture(config.ServerConfig{})
	auth := map[string]string{PayoutSecretHeader: testSecret}

	w := f.do(http.MethodGet, "/payouts/logs?provider_id=P1&limit=20", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "P1", f.payouts.gotProv)
	assert.Equal(t, 20, f.payouts.gotLimit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/payouts/logs?limit=abc", "", auth).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/payouts/logs", "", nil).Code)
}

func TestPayoutSecret_EmptyClosesEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/run", PayoutSecretMiddleware(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set(PayoutSecretHeader, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(config.ServerConfig{AllowedOrigins: []string{"https://app.example"}})

	w := f.do(http.MethodOptions, "/payments", "", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do(http.MethodOptions, "/payments", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"))

	now = now.Add(time.Hour)
	assert.True(t, rl.Allow("3.3.3.3"))
	assert.Len(t, rl.ips, 1)
}
