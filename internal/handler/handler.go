package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"lexpay/internal/gateway"
	"lexpay/internal/model"
	"lexpay/internal/repository"
	"lexpay/internal/service"
	"lexpay/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResponse, error)
}

type PaymentReader interface {
	Get(ctx context.Context, id string) (*service.PaymentView, error)
}

type Refunder interface {
	Refund(ctx context.Context, paymentID string, req *service.RefundRequest) (*model.Payment, error)
}

type WebhookProcessor interface {
	Handle(ctx context.Context, header http.Header, body []byte) (service.WebhookOutcome, error)
}

type PayoutRunner interface {
	Run(ctx context.Context) (*service.BatchReport, error)
	ListLogs(ctx context.Context, providerID string, limit int) ([]*model.PayoutLog, error)
}

// Services are the handler's collaborators; main wires the concrete ones.
type Services struct {
	Checkout CheckoutCreator
	Payments PaymentReader
	Refunds  Refunder
	Webhooks WebhookProcessor
	Payouts  PayoutRunner
}

type Handler struct {
	svc Services
	log *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// CreatePayment starts a checkout.
// POST /payments
func (h *Handler) CreatePayment(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	res, err := h.svc.Checkout.CreateCheckout(c.Request.Context(), &req)
	switch {
	case err == nil:
		response.Success(c, res)
	case errors.Is(err, service.ErrInvalidRequest):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrCheckoutInFlight):
		response.Conflict(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, service.ErrIdempotencyReuse):
		response.Conflict(c, response.CodeDuplicateRequest, err.Error())
	default:
		h.log.Error("create payment", zap.String("client_id", req.ClientID), zap.Error(err))
		response.ServerError(c, service.ErrRailUnavailable.Error())
	}
}

// GetPayment GET /payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	view, err := h.svc.Payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		h.log.Error("get payment", zap.String("payment_id", c.Param("id")), zap.Error(err))
		response.ServerError(c, "could not load payment")
		return
	}
	response.Success(c, view)
}

// RefundPayment refunds a settled payment in full.
// POST /payments/:id/refund
func (h *Handler) RefundPayment(c *gin.Context) {
	var req service.RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "invalid request: "+err.Error())
			return
		}
	}

	p, err := h.svc.Refunds.Refund(c.Request.Context(), c.Param("id"), &req)
	switch {
	case err == nil:
		response.Success(c, service.NewPaymentView(p))
	case errors.Is(err, repository.ErrPaymentNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrNotRefundable):
		response.Conflict(c, response.CodeNotRefundable, err.Error())
	case errors.Is(err, service.ErrRefundFailed):
		response.Error(c, http.StatusBadGateway, response.CodeRailError, err.Error())
	default:
		h.log.Error("refund payment", zap.String("payment_id", c.Param("id")), zap.Error(err))
		response.ServerError(c, "could not refund payment")
	}
}

// PaymentWebhook ingests rail notifications. Anything other than a bad
// signature, a malformed body or a ledger failure is acknowledged with 200.
// POST /webhooks/payment-rail
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ParamError(c, "could not read body")
		return
	}

	outcome, err := h.svc.Webhooks.Handle(c.Request.Context(), c.Request.Header, body)
	switch {
	case err == nil:
		h.log.Debug("webhook handled", zap.String("outcome", string(outcome)))
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.log.Warn("webhook rejected", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		response.ParamError(c, "invalid signature")
	case errors.Is(err, gateway.ErrMalformedEvent):
		response.ParamError(c, "malformed event")
	default:
		response.ServerError(c, "could not process event")
	}
}

// RunPayouts settles the current week. Guarded by PayoutSecret.
// POST /payouts/run
func (h *Handler) RunPayouts(c *gin.Context) {
	report, err := h.svc.Payouts.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrBatchInProgress) {
			response.Conflict(c, response.CodeBatchInProgress, err.Error())
			return
		}
		h.log.Error("run payouts", zap.Error(err))
		response.ServerError(c, "payout run failed")
		return
	}
	response.Success(c, report)
}

// ListPayoutLogs GET /payouts/logs?provider_id=&limit=
func (h *Handler) ListPayoutLogs(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			response.ParamError(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	logs, err := h.svc.Payouts.ListLogs(c.Request.Context(), c.Query("provider_id"), limit)
	if err != nil {
		h.log.Error("list payout logs", zap.Error(err))
		response.ServerError(c, "could not list payout logs")
		return
	}
	response.Success(c, gin.H{"logs": logs})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
