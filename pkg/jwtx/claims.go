package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is the clock-skew allowance applied when validating the
// exp/nbf window. Upstream and local clocks are never perfectly in sync.
const DefaultLeeway = 60 * time.Second

// Claims are the access-token claims the identity provider puts in tokens
// we verify. Only fields the gateway actually consumes are mapped; anything
// else rides along in the registered claim set.
type Claims struct {
	jwt.RegisteredClaims

	// Email as asserted by the identity provider.
	Email string `json:"email,omitempty"`

	// Name is the display name ("name" claim).
	Name string `json:"name,omitempty"`
}

// ValidateIssuer checks the iss claim against the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}
