// Package requesttoken mints and verifies the signed request_id tokens
// handed out by Phase 1 of the query protocol, so a request_id presented
// to Phase 2/Phase 3 can be authenticated as one this process actually
// issued without a lookup, before the PendingQueryStore check runs.
package requesttoken

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// DeriveSigningKey derives a stable HMAC signing key from a master secret
// using HKDF-SHA256, upgrading the raw SHA-256-concatenation scheme the
// teacher uses for its JWT secret derivation to a proper KDF.
func DeriveSigningKey(masterSecret, info string) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(info))
	if _, err := kdf.Read(key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// Claims is the payload of a request_id token: the random request_id
// itself plus the session_id it was issued under, so Phase 3 can detect a
// session_id mismatch (spec.md section 4.8) before ever touching the
// PendingQueryStore.
type Claims struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Signer mints and verifies request_id tokens.
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner constructs a Signer with the given HMAC key and token
// lifetime. ttl should be at least domain.PendingQueryTTL so a token
// never expires before its PendingQuery would be reaped.
func NewSigner(key []byte, ttl time.Duration) *Signer {
	return &Signer{key: key, ttl: ttl}
}

// Sign mints a token for requestID/sessionID.
func (s *Signer) Sign(requestID, sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RequestID: requestID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify parses and validates a token, returning its claims.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
