// Package auth guards the scanner endpoints: it verifies the sync token the
// companion app sends, matches it against the caller's active session, and
// checks the scope-specific permissions.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer names this service in minted token claims.
const tokenIssuer = "syncd"

// Tokens mints and verifies the HS256-signed sync tokens carried in the
// x-sync-token header. The token's subject must name the same user id as the
// caller's session; it is a second factor, not a session replacement.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

// NewTokens creates a token mint/verifier.
func NewTokens(secret []byte, ttl time.Duration) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: secret, ttl: ttl}, nil
}

// Mint issues a sync token for the given user id.
func (t *Tokens) Mint(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id must not be empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and issuer, and returns the token's
// subject (the user id it was minted for).
func (t *Tokens) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(token *jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid sync token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("invalid sync token: missing subject")
	}
	return claims.Subject, nil
}
