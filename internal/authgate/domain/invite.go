package domain

import "time"

// Invite is a single-use invitation into an organization. Only the SHA-256
// fingerprint of the invite token is stored.
type Invite struct {
	ID        string
	TokenHash string
	OrgID     string
	Email     string // Address the invite was issued to
	Role      string // Role granted on acceptance, never "owner"
	CreatedBy string
	ExpiresAt time.Time
	Used      bool
	UsedBy    string // Can be empty string if not yet used
	CreatedAt time.Time
	UpdatedAt time.Time
}
