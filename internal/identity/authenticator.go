// Package identity validates the bearer tokens issued by the customer
// portal. This service never issues end-user credentials itself; it
// only verifies them and extracts the caller's role.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Config contains token validation settings.
type Config struct {
	SecretKey     string
	TokenDuration time.Duration // used by IssueToken only
}

// Authenticator validates HS256 access tokens. Implements
// httputil.TokenValidator.
type Authenticator struct {
	cfg Config
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg Config) *Authenticator {
	if cfg.TokenDuration <= 0 {
		cfg.TokenDuration = 15 * time.Minute
	}
	return &Authenticator{cfg: cfg}
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ValidateToken checks the signature and expiry of a token and returns
// the subject and role.
func (a *Authenticator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.SecretKey), nil
	})
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", "", ErrInvalidToken
	}

	role := domain.Role(claims.Role)
	if role == "" {
		role = domain.RoleClient
	}
	return claims.Subject, role, nil
}

// IssueToken signs a token for a user. Used by internal tooling and
// tests; production tokens come from the portal.
func (a *Authenticator) IssueToken(userID string, role domain.Role) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenDuration)),
		},
	})

	signed, err := token.SignedString([]byte(a.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
