package domain

import "time"

// TokenPair is what credential and refresh endpoints return: the provider's
// short-lived access token (JWT) plus our opaque local refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    int64  `json:"expires_in"`           // seconds until access token expiry
}

// RefreshToken models a stored refresh token record. Records form rotation
// chains via ParentID; redeeming a token revokes it and inserts a successor.
type RefreshToken struct {
	ID              string
	UserID          string
	TokenHash       string // deterministic fingerprint (base64url SHA-256)
	ParentID        string // Predecessor in the rotation chain, "" for chain roots
	IdPRefreshToken string // Upstream provider refresh token carried along the chain
	ExpiresAt       time.Time
	Revoked         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active reports whether the record is still redeemable at the given instant.
func (rt RefreshToken) Active(now time.Time) bool {
	return !rt.Revoked && now.Before(rt.ExpiresAt)
}
