package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/opsledger/authgate/internal/authgate/domain"
	"github.com/opsledger/authgate/internal/authgate/idp"
	"github.com/opsledger/authgate/internal/authgate/store"
	"github.com/opsledger/authgate/pkg/slogx"
)

// UserService resolves the calling user's profile, provisioning the local
// row from the provider's admin API when a valid token arrives for a user
// we have never seen locally.
type UserService struct {
	Store store.Store
	IdP   IdentityProvider
}

// OrgSummary is one membership in a profile listing.
type OrgSummary struct {
	Org     domain.Organization
	Role    string
	IsOwner bool
}

// Profile is everything the client endpoint returns about the caller.
type Profile struct {
	User          domain.User
	Organizations []OrgSummary
	ActiveOrgID   string
}

// Profile loads the user, their memberships, and the active org context.
func (s *UserService) Profile(ctx context.Context, userID string) (Profile, error) {
	user, err := s.ensureUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	memberships, err := s.Store.Memberships().ListUserMemberships(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	orgs := make([]OrgSummary, 0, len(memberships))
	for _, m := range memberships {
		org, err := s.Store.Organizations().GetOrgByID(ctx, m.OrgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // soft-deleted org, membership row is vestigial
			}
			return Profile{}, err
		}
		orgs = append(orgs, OrgSummary{Org: org, Role: m.Role, IsOwner: m.IsOwner})
	}

	p := Profile{User: user, Organizations: orgs}

	active, err := s.Store.ActiveOrgs().GetActiveOrg(ctx, userID)
	switch {
	case err == nil:
		p.ActiveOrgID = active.OrgID
	case errors.Is(err, store.ErrNotFound):
		// No active context yet.
	default:
		return Profile{}, err
	}
	return p, nil
}

// ensureUser returns the local user, provisioning it from the provider's
// admin API if the subject is known upstream but not here yet (tokens minted
// outside the sign-in path, e.g. provider console users).
func (s *UserService) ensureUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}

	// Provider subjects are UUIDs; anything else never hits the admin API.
	if _, err := uuid.Parse(userID); err != nil {
		return domain.User{}, ErrNotFound
	}

	remote, err := s.IdP.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, idp.ErrNotFound) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, mapIdPError(err)
	}

	user = domain.User{
		ID:    remote.ID,
		Email: remote.Email,
		Name:  remote.DisplayName(),
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return domain.User{}, err
	}

	slogx.FromContext(ctx).Info("user provisioned from provider", "user_id", userID)
	return user, nil
}
