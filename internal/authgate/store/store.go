package store

import (
	"context"
	"errors"

	"github.com/opsledger/authgate/internal/authgate/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable. We can change having the sub-repos as methods later but we do it
// now so we can have more control and actively stop people from accidently
// doing transactions within transactions.
type Store interface {
	Users() Users
	Organizations() Organizations
	Memberships() Memberships
	ActiveOrgs() ActiveOrgs
	Invites() Invites
	RefreshTokens() RefreshTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., refresh rotation).
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// This is the recommended way to handle transactions as it automatically
	// handles commit/rollback logic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id (the provider-issued subject).
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used during sign-in and invite acceptance.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id comes from the identity provider).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateLastLogin stamps last_login_at and bumps updated_at.
	UpdateLastLogin(ctx context.Context, userID string) error

	// UpdateName mutates the display name and bumps updated_at.
	UpdateName(ctx context.Context, userID string, name string) error
}

type Organizations interface {
	// GetOrgByID fetches a non-deleted organization by id.
	GetOrgByID(ctx context.Context, id string) (domain.Organization, error)

	// GetOrgBySlug fetches a non-deleted organization by slug.
	GetOrgBySlug(ctx context.Context, slug string) (domain.Organization, error)

	// CreateOrg inserts a new organization (id is provided by app via ULID).
	CreateOrg(ctx context.Context, o domain.Organization) error

	// UpdateOrgName mutates the name and bumps updated_at.
	UpdateOrgName(ctx context.Context, orgID string, name string) error

	// SoftDeleteOrg flips is_deleted=1. The slug is freed for reuse because
	// uniqueness only applies among non-deleted rows.
	SoftDeleteOrg(ctx context.Context, orgID string) error

	// SlugExists reports whether a non-deleted organization holds the slug.
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type Memberships interface {
	// GetMembership returns the membership row for a user+org pair.
	GetMembership(ctx context.Context, userID, orgID string) (domain.Membership, error)

	// CreateMembership inserts a new membership row.
	CreateMembership(ctx context.Context, m domain.Membership) error

	// UpdateMembershipRole sets role and the owner flag, bumps updated_at.
	UpdateMembershipRole(ctx context.Context, userID, orgID, role string, isOwner bool) error

	// DeleteMembership removes the row.
	DeleteMembership(ctx context.Context, userID, orgID string) error

	// ListOrgMembers returns all memberships of an organization, owner first.
	ListOrgMembers(ctx context.Context, orgID string) ([]domain.Membership, error)

	// ListUserMemberships returns all memberships of a user across organizations.
	ListUserMemberships(ctx context.Context, userID string) ([]domain.Membership, error)

	// GetOwner returns the membership carrying is_owner for the organization.
	GetOwner(ctx context.Context, orgID string) (domain.Membership, error)

	// CountMembers returns the number of members in an organization.
	CountMembers(ctx context.Context, orgID string) (int, error)
}

type ActiveOrgs interface {
	// GetActiveOrg returns the active organization context for a user.
	GetActiveOrg(ctx context.Context, userID string) (domain.ActiveOrgContext, error)

	// SetActiveOrg upserts the single active context row for a user.
	SetActiveOrg(ctx context.Context, userID, orgID string) error

	// ClearActiveOrg removes the row. Not an error if none exists.
	ClearActiveOrg(ctx context.Context, userID string) error

	// ClearActiveOrgForOrg removes every active context pointing at the
	// organization (used when an org is deleted).
	ClearActiveOrgForOrg(ctx context.Context, orgID string) error
}

type Invites interface {
	// CreateInvite writes a new invite (token_hash is SHA-256 of the opaque invite token).
	CreateInvite(ctx context.Context, inv domain.Invite) error

	// GetActiveInviteByTokenHash returns a not-used, not-expired invite by hash.
	GetActiveInviteByTokenHash(ctx context.Context, hash string) (domain.Invite, error)

	// MarkInviteUsed sets used=1, used_by=userID, updated_at=now (transaction-friendly).
	MarkInviteUsed(ctx context.Context, inviteID string, usedByUserID string) error

	// DeleteExpiredInvites is optional housekeeping.
	DeleteExpiredInvites(ctx context.Context) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its hashed value.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// GetRefreshTokenByID returns the token record by primary key.
	GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error)

	// RevokeRefreshTokenIfActive flips revoked=1 only if it was 0, and reports
	// whether this call performed the flip. Rotation uses this as a
	// compare-and-set so exactly one concurrent redeemer wins.
	RevokeRefreshTokenIfActive(ctx context.Context, id string) (bool, error)

	// RevokeRefreshToken flips revoked=1 unconditionally, sets updated_at.
	RevokeRefreshToken(ctx context.Context, id string) error

	// GetChildRefreshToken returns the successor record whose parent_id is id.
	GetChildRefreshToken(ctx context.Context, id string) (domain.RefreshToken, error)

	// UpdateIdPRefreshToken replaces the stored upstream refresh token.
	UpdateIdPRefreshToken(ctx context.Context, id string, idpToken string) error

	// RevokeAllUserRefreshTokens bulk revocation for a user (e.g., account lockout).
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error

	// DeleteExpiredRefreshTokens is optional housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}
