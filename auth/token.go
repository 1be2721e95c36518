package auth

import (
	"chat-sync/errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Participant returns the id the backend stamps on this user's messages.
func (c *CustomClaims) Participant() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

func (c *CustomClaims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

// Inspect decodes a JWT without verifying its signature.
// The client never holds the signing key: the backend stays the only judge.
func Inspect(token string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// CheckUsable refuses tokens that cannot possibly be accepted: empty ones and
// expired JWTs. Opaque tokens are left to the backend.
func CheckUsable(token string, now time.Time) (*CustomClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty token", errors.ErrCredentialRejected)
	}
	claims, err := Inspect(token)
	if err != nil {
		return nil, nil
	}
	if claims.Expired(now) {
		return nil, fmt.Errorf("%w: token expired at %s", errors.ErrCredentialRejected, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return claims, nil
}

// GenerateToken creates a HS256 JWT for a specific user.
// Only fixtures and local backends use it, real tokens come from the login flow.
func GenerateToken(userID string, roles []string, authTokenDuration time.Duration, key []byte) (string, error) {
	claims := &CustomClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(authTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "chat-sync",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
