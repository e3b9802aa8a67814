// Package auth issues and validates bearer tokens for the HTTP ingress.
//
// Tokens are HS256 JWTs signed with a shared secret. The subject names the
// transport (e.g. "telegram-bridge") that forwards messages on behalf of
// chat principals; the principal itself travels in the request body.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "hashi"
	audience = "hashi-ingress"
)

// Claims extends jwt.RegisteredClaims with the transport name.
type Claims struct {
	jwt.RegisteredClaims
	Transport string `json:"transport,omitempty"`
}

// TokenManager signs and validates ingress tokens.
type TokenManager struct {
	secret []byte
	now    func() time.Time
}

// NewTokenManager creates a manager for the given shared secret.
func NewTokenManager(secret string) (*TokenManager, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: ingress secret must be at least 16 bytes")
	}
	return &TokenManager{secret: []byte(secret), now: time.Now}, nil
}

// Issue creates a token for transport valid for ttl.
func (m *TokenManager) Issue(transport string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   transport,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Transport: transport,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token, returning its claims.
func (m *TokenManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return claims, nil
}
