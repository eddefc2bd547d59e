// Package security hardens the HTTP surface: headers, content-type and
// payload checks, request timeouts, CORS, and field-level validation of
// incoming credit applications.
package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ventture/credit-engine/internal/types"
)

// Config holds security configuration
type Config struct {
	MaxPayloadBytes int64         `json:"max_payload_bytes"`
	EnableCORS      bool          `json:"enable_cors"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	TrustedProxies  []string      `json:"trusted_proxies"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	EnableHSTS      bool          `json:"enable_hsts"`
}

// DefaultConfig returns secure defaults
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes: 8 * 1024,
		EnableCORS:      true,
		AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		TrustedProxies:  []string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		RequestTimeout:  30 * time.Second,
	}
}

// Middleware provides the security middleware set
type Middleware struct {
	config Config
}

// NewMiddleware creates a new security middleware instance
func NewMiddleware(config Config) *Middleware {
	return &Middleware{config: config}
}

// SecurityHeaders adds security headers to responses
func (sm *Middleware) SecurityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-XSS-Protection", "1; mode=block")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
	c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	if sm.config.EnableHSTS || c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	c.Next()
}

// ValidateContentType validates request content type
func (sm *Middleware) ValidateContentType(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Next()
		return
	}

	contentType := c.GetHeader("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "application/json") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": "unsupported content type",
		})
		c.Abort()
		return
	}

	c.Next()
}

// LimitPayload rejects oversized request bodies before they are read.
// An application is a handful of numeric fields; anything bigger is not
// a legitimate request.
func (sm *Middleware) LimitPayload(c *gin.Context) {
	if c.Request.ContentLength > sm.config.MaxPayloadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "request body too large",
			"max_bytes": sm.config.MaxPayloadBytes,
		})
		c.Abort()
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, sm.config.MaxPayloadBytes)
	c.Next()
}

// RequestTimeout enforces request timeout
func (sm *Middleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)

	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// ValidateApplication performs field-level checks on a parsed
// application before it reaches the engine. Range checks here keep
// obviously impossible values from ever being scored.
func ValidateApplication(req *types.EvaluateRequest) error {
	if req.Income <= 0 {
		return fmt.Errorf("income must be positive")
	}
	if req.Age < 18 || req.Age > 120 {
		return fmt.Errorf("age must be between 18 and 120")
	}
	if req.CreditAmount <= 0 {
		return fmt.Errorf("credit_amount must be positive")
	}
	if req.GuaranteeValue < 0 {
		return fmt.Errorf("guarantee_value must not be negative")
	}

	liquidity := strings.ToLower(strings.TrimSpace(req.GuaranteeLiquidity))
	switch liquidity {
	case "low", "medium", "high":
		req.GuaranteeLiquidity = liquidity
	default:
		return fmt.Errorf("guarantee_liquidity must be one of: low, medium, high")
	}

	return nil
}

// ValidateEvaluateRequest binds and validates the evaluate endpoint
// request, storing the parsed application in the context for handlers.
func (sm *Middleware) ValidateEvaluateRequest(c *gin.Context) {
	var req types.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid JSON format",
		})
		c.Abort()
		return
	}

	if err := ValidateApplication(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("application validation failed: %v", err),
		})
		c.Abort()
		return
	}

	c.Set("application", &req)
	c.Next()
}
