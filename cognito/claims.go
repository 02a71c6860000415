package cognito

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims are the token claims the gateway reads. Tenant and role claims are deliberately
// absent: membership is always loaded from the principal store, never trusted from a token.
type Claims struct {
	jwt.RegisteredClaims
	Email           string `json:"email,omitempty"`
	TokenUse        string `json:"token_use,omitempty"`
	CognitoUsername string `json:"cognito:username,omitempty"`
}

// Identity is an authenticated subject
type Identity struct {
	Subject   string
	Email     string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// identityFromClaims converts validated claims into an Identity
func identityFromClaims(claims *Claims) (*Identity, error) {
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	id := &Identity{
		Subject:  sub,
		Email:    claims.Email,
		Username: claims.CognitoUsername,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// ExtractSubject reads the subject from a token without verifying it.
// Only for log correlation of tokens that already failed validation.
func ExtractSubject(tokenString string) (string, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}
