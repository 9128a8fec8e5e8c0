package domain

import (
	"encoding/json"
	"time"
)

// Membership roles, strongest first.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRole reports whether role is one of the known membership roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

type Organization struct {
	ID        string
	Name      string
	Slug      string // URL-safe, unique among non-deleted organizations
	IsDeleted bool
	Metadata  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership links a user to an organization with a role. Each non-deleted
// organization has exactly one member with IsOwner set.
type Membership struct {
	UserID    string
	OrgID     string
	Role      string
	IsOwner   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveOrgContext records which organization a user is currently acting in.
// At most one row per user; the referenced membership must exist.
type ActiveOrgContext struct {
	UserID    string
	OrgID     string
	UpdatedAt time.Time
}
