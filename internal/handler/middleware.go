package handler

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"lexpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RequestIDHeader    = "X-Request-ID"
	PayoutSecretHeader = "X-Payout-Secret"
)

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("request_id", c.GetString("request_id")),
		}
		switch {
		case status >= 500:
			log.Error("[HTTP]", fields...)
		case status >= 400:
			log.Warn("[HTTP]", fields...)
		default:
			log.Info("[HTTP]", fields...)
		}
	}
}

func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("[PANIC]", zap.Any("panic", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				response.ServerError(c, "internal server error")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware allows the listed origins; an empty list allows any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(allowed) == 0:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Idempotency-Key, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter keeps one token bucket per client IP. Buckets idle for longer
// than idleTTL are dropped on the next sweep.
type RateLimiter struct {
	mu      sync.Mutex
	ips     map[string]*visitor
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	lastGC  time.Time
	now     func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		ips:     make(map[string]*visitor),
		rate:    r,
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastGC) > rl.idleTTL {
		for k, v := range rl.ips {
			if now.Sub(v.lastSeen) > rl.idleTTL {
				delete(rl.ips, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.ips[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.ips[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			response.Error(c, http.StatusTooManyRequests, response.CodeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// PayoutSecretMiddleware guards the operator endpoints. With no secret
// configured they are closed entirely.
func PayoutSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(PayoutSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			response.Unauthorized(c)
			return
		}
		c.Next()
	}
}
