package handler

import (
	"lexpay/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func SetupRouter(h *Handler, server config.ServerConfig, payoutSecret string, log *zap.Logger) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(server.AllowedOrigins))

	r.GET("/health", h.Health)

	limit := rate.Inf
	if server.RateLimit > 0 {
		limit = rate.Limit(server.RateLimit)
	}
	burst := server.RateBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := NewRateLimiter(limit, burst)

	payments := r.Group("/payments")
	{
		payments.POST("", RateLimitMiddleware(limiter), h.CreatePayment)
		payments.GET("/:id", h.GetPayment)
		payments.POST("/:id/refund", PayoutSecretMiddleware(payoutSecret), h.RefundPayment)
	}

	r.POST("/webhooks/payment-rail", h.PaymentWebhook)

	payouts := r.Group("/payouts", PayoutSecretMiddleware(payoutSecret))
	{
		payouts.POST("/run", h.RunPayouts)
		payouts.GET("/logs", h.ListPayoutLogs)
	}

	return r
}
