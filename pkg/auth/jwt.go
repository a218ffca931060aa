package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Validator verifies bearer tokens with a shared HMAC secret. The engine
// sits behind the deployment's gateway, so symmetric verification is
// enough; asymmetric key sets can wrap this later without changing the
// middleware contract.
type Validator struct {
	secret []byte
}

// NewValidator returns nil when no secret is configured, which the
// middleware treats as "JWT auth disabled".
func NewValidator(secret []byte) *Validator {
	if len(secret) == 0 {
		return nil
	}
	return &Validator{secret: secret}
}

// Validate parses and verifies a token, returning its registered claims.
// The subject claim is required: it becomes the audit actor.
func (v *Validator) Validate(tokenStr string) (*jwt.RegisteredClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("validator uninitialized")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token subject is required")
	}
	return claims, nil
}
