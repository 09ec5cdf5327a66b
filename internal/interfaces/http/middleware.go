package http

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wabot/internal/logger"
	"wabot/internal/usecases"
)

const (
	claimsKey       = "claims"
	requestIDHeader = "X-Request-ID"
)

// Authenticator verifies bearer access tokens.
type Authenticator interface {
	Authenticate(accessToken string) (*usecases.TokenClaims, error)
}

// TenantLimiter hands out per-key request budgets.
type TenantLimiter interface {
	Allow(key string) bool
	WaitTime(key string) time.Duration
}

type Middleware struct {
	auth           Authenticator
	limiter        TenantLimiter
	allowedOrigins []string
}

func NewMiddleware(auth Authenticator, limiter TenantLimiter, allowedOrigins []string) *Middleware {
	return &Middleware{
		auth:           auth,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
	}
}

// AuthRequired resolves the bearer access token and stores its claims on the
// gin context.
func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		claims, err := m.auth.Authenticate(strings.TrimSpace(tokenString))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsKey, *claims)
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), logger.LogFields{
			TenantID: logger.Ptr(claims.TenantID),
		}))
		c.Next()
	}
}

// OwnerRequired must follow AuthRequired.
func (m *Middleware) OwnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok || !claims.IsOwner() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "owner role required"})
			return
		}
		c.Next()
	}
}

// RateLimitPerTenant limits requests by the tenant in the claims (must follow
// AuthRequired).
func (m *Middleware) RateLimitPerTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant identity not found for rate limiting"})
			return
		}

		if !m.limiter.Allow(claims.TenantID) {
			wait := m.limiter.WaitTime(claims.TenantID)
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// CORSMiddleware allows the configured origins. An empty list or "*" allows any.
func (m *Middleware) CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && m.originAllowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (m *Middleware) originAllowed(origin string) bool {
	if len(m.allowedOrigins) == 0 {
		return true
	}
	return slices.Contains(m.allowedOrigins, "*") || slices.Contains(m.allowedOrigins, origin)
}

// RequestID reuses the caller's X-Request-ID or assigns one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), logger.LogFields{
			RequestID: logger.Ptr(id),
		}))
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "http.request.failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "http.request.rejected", attrs...)
		default:
			slog.InfoContext(ctx, "http.request", attrs...)
		}
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(c.Request.Context(), "http.panic_recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// SecurityHeaders adds security headers to prevent common attacks
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Writer.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}

// RequestSizeLimiter limits request body size to prevent DoS
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) (usecases.TokenClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return usecases.TokenClaims{}, false
	}
	claims, ok := v.(usecases.TokenClaims)
	return claims, ok
}
