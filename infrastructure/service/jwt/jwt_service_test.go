package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService(t *testing.T) {
	service, err := NewJWTService("test-secret", "exojobs")
	require.NoError(t, err)

	t.Run("GenerateAndValidate", func(t *testing.T) {
		token, err := service.GenerateToken("ops@contoso.com", RoleOperator, time.Hour)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		claims, err := service.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "ops@contoso.com", claims.Subject)
		assert.Equal(t, RoleOperator, claims.Role)
	})

	t.Run("RejectsUnknownRole", func(t *testing.T) {
		_, err := service.GenerateToken("someone", "viewer", time.Hour)
		assert.Error(t, err)
	})

	t.Run("ValidateInvalidToken", func(t *testing.T) {
		_, err := service.ValidateToken("invalid-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ValidateWrongSecret", func(t *testing.T) {
		other, err := NewJWTService("other-secret", "")
		require.NoError(t, err)
		token, err := other.GenerateToken("ops", RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ValidateExpiredToken", func(t *testing.T) {
		past, err := NewJWTService("test-secret", "")
		require.NoError(t, err)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

		token, err := past.GenerateToken("ops", RoleAdmin, time.Minute)
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("ValidateTokenWithoutRole", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "ops",
			"type": "access",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = service.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrMissingRole)
	})
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService("", "")
	assert.Error(t, err)
}
