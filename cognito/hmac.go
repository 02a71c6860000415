package cognito

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minHMACSecretLen matches the HS256 key size
const minHMACSecretLen = 32

// HMACValidator validates HS256 tokens signed with a shared secret.
// Intended for local development and integration environments.
type HMACValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewHMACValidator creates an HS256 validator
func NewHMACValidator(secret, issuer, audience string) (*HMACValidator, error) {
	if len(secret) < minHMACSecretLen {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", minHMACSecretLen)
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	return &HMACValidator{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

// Validate verifies the token and returns the subject
func (v *HMACValidator) Validate(_ context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return identityFromClaims(claims)
}

// Sign issues a token for subject valid for ttl
func (v *HMACValidator) Sign(subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{v.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
