package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tenantdesk/exojobs/infrastructure/http/response"
	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/infrastructure/service/metrics"
	"github.com/tenantdesk/exojobs/infrastructure/service/ratelimit"
	"github.com/tenantdesk/exojobs/internal/config"
)

type RateLimitMiddleware struct {
	rateLimitService ratelimit.RateLimitService
	config           config.RateLimitConfig
	logger           logger.Logger
	metrics          *metrics.Metrics
}

func NewRateLimitMiddleware(rateLimitService ratelimit.RateLimitService, cfg config.RateLimitConfig, log logger.Logger, m *metrics.Metrics) *RateLimitMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		config:           cfg,
		logger:           log,
		metrics:          m,
	}
}

// RateLimit counts job triggers per client IP. Limiter errors let the request through.
func (m *RateLimitMiddleware) RateLimit(next http.Handler) http.Handler {
	if m.rateLimitService == nil || !m.config.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientIP := getClientIP(r)
		key := fmt.Sprintf("jobs:ip:%s", clientIP)

		isBlocked, err := m.rateLimitService.IsBlocked(ctx, key)
		if err != nil {
			m.logger.Error(ctx, "Failed to check block status", err, map[string]interface{}{
				"ip":  clientIP,
				"key": key,
			})
		}
		if isBlocked {
			m.reject(w, r, "rate_limit_blocked", "MEDIUM", key)
			return
		}

		allowed, err := m.rateLimitService.CheckLimit(ctx, key, m.config.Requests, m.config.Window)
		if err != nil {
			m.logger.Error(ctx, "Failed to check rate limit", err, map[string]interface{}{
				"ip":  clientIP,
				"key": key,
			})
		}
		if !allowed {
			if err := m.rateLimitService.Block(ctx, key, m.config.Block, "Rate limit exceeded"); err != nil {
				m.logger.Error(ctx, "Failed to block IP", err, map[string]interface{}{
					"ip":  clientIP,
					"key": key,
				})
			}
			m.reject(w, r, "rate_limit_exceeded", "HIGH", key)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, event, severity, key string) {
	logger.LogSecurityEvent(r.Context(), m.logger, event, severity, map[string]interface{}{
		"ip":        getClientIP(r),
		"path":      r.URL.Path,
		"key":       key,
		"userAgent": r.UserAgent(),
	})
	m.metrics.RateLimitHit()

	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(m.config.Block.Seconds())))
	response.TooManyRequests(w, "Too many requests. Please try again later.")
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// the first entry is the original client
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
