package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles allowed to trigger jobs
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingRole  = errors.New("token carries no job role")
)

// TokenClaims is what a validated bearer token tells us about the caller
type TokenClaims struct {
	Subject string
	Role    string
}

type JWTService struct {
	hmacSecret []byte
	issuer     string
	now        func() time.Time
}

func NewJWTService(secret, issuer string) (*JWTService, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTService{
		hmacSecret: []byte(secret),
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// GenerateToken signs an HS256 access token for an operator or automation account
func (s *JWTService) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if !IsJobRole(role) {
		return "", fmt.Errorf("unsupported role %q", role)
	}

	now := s.now()
	tokenClaims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"type": "access",
	}
	if s.issuer != "" {
		tokenClaims["iss"] = s.issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)
	tokenString, err := token.SignedString(s.hmacSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.hmacSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, s.handleValidationError(err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	if tokenType, ok := claims["type"].(string); !ok || tokenType != "access" {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if !IsJobRole(role) {
		return nil, ErrMissingRole
	}

	return &TokenClaims{Subject: subject, Role: role}, nil
}

// IsJobRole reports whether role may trigger jobs
func IsJobRole(role string) bool {
	return role == RoleAdmin || role == RoleOperator
}

func (s *JWTService) handleValidationError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrInvalidToken
}
