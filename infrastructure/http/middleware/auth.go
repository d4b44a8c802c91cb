package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/tenantdesk/exojobs/infrastructure/http/response"
	"github.com/tenantdesk/exojobs/infrastructure/http/validator"
	"github.com/tenantdesk/exojobs/infrastructure/service/jwt"
	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
)

type authUserKey struct{}

// TokenValidator is satisfied by jwt.JWTService
type TokenValidator interface {
	ValidateToken(token string) (*jwt.TokenClaims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
	logger logger.Logger
}

// NewAuthMiddleware returns a middleware that enforces bearer tokens.
// With a nil validator authentication is disabled and every request passes.
func NewAuthMiddleware(tokens TokenValidator, log logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &AuthMiddleware{
		tokens: tokens,
		logger: log,
	}
}

// Enabled reports whether requests are checked at all
func (m *AuthMiddleware) Enabled() bool {
	return m.tokens != nil
}

// RequireJobRole rejects requests without a valid token carrying the admin or operator role
func (m *AuthMiddleware) RequireJobRole(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "Authorization header required")
			return
		}

		token, ok := validator.BearerToken(authHeader)
		if !ok {
			response.Unauthorized(w, "Invalid authorization header format")
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		switch {
		case errors.Is(err, jwt.ErrMissingRole):
			logger.LogSecurityEvent(ctx, m.logger, "job_role_missing", "MEDIUM", map[string]interface{}{
				"path": r.URL.Path,
				"ip":   getClientIP(r),
			})
			response.Forbidden(w, "Job role required")
			return
		case err != nil:
			logger.LogSecurityEvent(ctx, m.logger, "invalid_token", "MEDIUM", map[string]interface{}{
				"path":  r.URL.Path,
				"ip":    getClientIP(r),
				"error": err.Error(),
			})
			response.Unauthorized(w, "Invalid or expired token")
			return
		}

		ctx = context.WithValue(ctx, authUserKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserClaims retrieves the caller's claims from context
func GetUserClaims(ctx context.Context) *jwt.TokenClaims {
	if claims, ok := ctx.Value(authUserKey{}).(*jwt.TokenClaims); ok {
		return claims
	}
	return nil
}
