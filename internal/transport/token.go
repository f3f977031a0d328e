package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL bounds how long a minted media token stays redeemable. The
// client is expected to dial the media socket immediately after call setup.
const defaultTokenTTL = 2 * time.Minute

// ErrInvalidToken is returned for tokens that fail verification for any
// reason: bad signature, expiry, or a call ID mismatch.
var ErrInvalidToken = errors.New("transport: invalid media token")

// TokenIssuer mints and verifies the short-lived JWTs that authorize a media
// WebSocket connection for one specific call.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer signing with the given secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: defaultTokenTTL}
}

// Mint issues a token whose subject is the call ID.
func (i *TokenIssuer) Mint(callID string) (string, error) {
	if callID == "" {
		return "", errors.New("transport: call id required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   callID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks the token's signature and expiry and that it was minted for
// callID.
func (i *TokenIssuer) Verify(token, callID string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != callID {
		return ErrInvalidToken
	}
	return nil
}
