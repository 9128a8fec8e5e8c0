package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/opsledger/authgate/internal/authgate/domain"
	"github.com/opsledger/authgate/internal/authgate/store"
	"github.com/opsledger/authgate/pkg/cryptox"
	"github.com/opsledger/authgate/pkg/idx"
	"github.com/opsledger/authgate/pkg/slogx"
)

// maxSlugAttempts caps suffix disambiguation before falling back to a
// ULID-derived suffix that cannot collide.
const maxSlugAttempts = 20

// OrgService owns organization membership consistency: creation with the
// single-owner invariant, invites, role changes with atomic ownership
// transfer, removal, and the active organization context.
type OrgService struct {
	Store     store.Store
	InviteTTL time.Duration
}

// Member is a membership row joined with the user's identity for listings.
type Member struct {
	domain.Membership
	Email string
	Name  string
}

// CreateOrganization creates an org with the caller as its sole owner. The
// slug derives from the name, disambiguated with numeric suffixes. The new
// org becomes the caller's active context if they have none.
func (s *OrgService) CreateOrganization(ctx context.Context, userID, name string) (domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Organization{}, ErrInvalidInput
	}

	var org domain.Organization
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		slug, err := uniqueSlug(ctx, tx, slugify(name))
		if err != nil {
			return err
		}

		org = domain.Organization{
			ID:   idx.New().String(),
			Name: name,
			Slug: slug,
		}
		if err := tx.Organizations().CreateOrg(ctx, org); err != nil {
			return err
		}

		if err := tx.Memberships().CreateMembership(ctx, domain.Membership{
			UserID:  userID,
			OrgID:   org.ID,
			Role:    domain.RoleOwner,
			IsOwner: true,
		}); err != nil {
			return err
		}

		// First org becomes the active context automatically.
		_, err = tx.ActiveOrgs().GetActiveOrg(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return tx.ActiveOrgs().SetActiveOrg(ctx, userID, org.ID)
		}
		return err
	})
	if err != nil {
		return domain.Organization{}, err
	}

	slogx.FromContext(ctx).Info("organization created",
		"org_id", org.ID, "slug", org.Slug, "owner_id", userID)
	return org, nil
}

// GetOrganization returns the org if the caller is a member of it.
func (s *OrgService) GetOrganization(ctx context.Context, userID, orgID string) (domain.Organization, error) {
	if _, err := s.requireMembership(ctx, s.Store, userID, orgID); err != nil {
		return domain.Organization{}, err
	}
	org, err := s.Store.Organizations().GetOrgByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Organization{}, ErrNotFound
		}
		return domain.Organization{}, err
	}
	return org, nil
}

// DeleteOrganization soft-deletes the org. Owner only. Every member's
// active context pointing at the org is cleared in the same transaction.
func (s *OrgService) DeleteOrganization(ctx context.Context, userID, orgID string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		m, err := s.requireMembership(ctx, tx, userID, orgID)
		if err != nil {
			return err
		}
		if !m.IsOwner {
			return ErrForbidden
		}
		if err := tx.Organizations().SoftDeleteOrg(ctx, orgID); err != nil {
			return err
		}
		return tx.ActiveOrgs().ClearActiveOrgForOrg(ctx, orgID)
	})
}

// ListMembers returns the org's members, owner first, joined with identity.
func (s *OrgService) ListMembers(ctx context.Context, userID, orgID string) ([]Member, error) {
	if _, err := s.requireMembership(ctx, s.Store, userID, orgID); err != nil {
		return nil, err
	}

	memberships, err := s.Store.Memberships().ListOrgMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}

	out := make([]Member, 0, len(memberships))
	for _, m := range memberships {
		u, err := s.Store.Users().GetUserByID(ctx, m.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, Member{Membership: m, Email: u.Email, Name: u.Name})
	}
	return out, nil
}

// InviteMember mints a single-use invite and returns its opaque token. Only
// owners and admins may invite, and invites never grant ownership.
func (s *OrgService) InviteMember(ctx context.Context, inviterID, orgID, email, role string) (string, domain.Invite, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", domain.Invite{}, ErrInvalidInput
	}
	if role == "" {
		role = domain.RoleMember
	}
	if role == domain.RoleOwner || !domain.ValidRole(role) {
		return "", domain.Invite{}, ErrInvalidInput
	}

	m, err := s.requireMembership(ctx, s.Store, inviterID, orgID)
	if err != nil {
		return "", domain.Invite{}, err
	}
	if m.Role != domain.RoleOwner && m.Role != domain.RoleAdmin {
		return "", domain.Invite{}, ErrForbidden
	}

	// Inviting an address that already belongs to a member is a conflict.
	if existing, err := s.Store.Users().GetUserByEmail(ctx, email); err == nil {
		if _, err := s.Store.Memberships().GetMembership(ctx, existing.ID, orgID); err == nil {
			return "", domain.Invite{}, ErrConflict
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", domain.Invite{}, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", domain.Invite{}, err
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", domain.Invite{}, err
	}

	inv := domain.Invite{
		ID:        idx.New().String(),
		TokenHash: cryptox.FingerprintToken(opaque),
		OrgID:     orgID,
		Email:     email,
		Role:      role,
		CreatedBy: inviterID,
		ExpiresAt: time.Now().Add(s.InviteTTL),
	}
	if err := s.Store.Invites().CreateInvite(ctx, inv); err != nil {
		return "", domain.Invite{}, err
	}

	slogx.FromContext(ctx).Info("invite created",
		"org_id", orgID, "invite_id", inv.ID, "role", role)
	return opaque, inv, nil
}

// AcceptInvite redeems an invite token for the calling user. The invite is
// bound to the email it was issued to and is consumed exactly once.
func (s *OrgService) AcceptInvite(ctx context.Context, userID, userEmail, opaque string) (domain.Membership, error) {
	hash := cryptox.FingerprintToken(opaque)

	var membership domain.Membership
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		inv, err := tx.Invites().GetActiveInviteByTokenHash(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidInvite
			}
			return err
		}

		if !strings.EqualFold(inv.Email, userEmail) {
			return ErrInvalidInvite
		}

		// A deleted org invalidates its outstanding invites.
		if _, err := tx.Organizations().GetOrgByID(ctx, inv.OrgID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidInvite
			}
			return err
		}

		// Accepting while already a member is an idempotent success; the
		// invite is still consumed.
		if existing, err := tx.Memberships().GetMembership(ctx, userID, inv.OrgID); err == nil {
			membership = existing
			return tx.Invites().MarkInviteUsed(ctx, inv.ID, userID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		membership = domain.Membership{
			UserID: userID,
			OrgID:  inv.OrgID,
			Role:   inv.Role,
		}
		if err := tx.Memberships().CreateMembership(ctx, membership); err != nil {
			return err
		}
		return tx.Invites().MarkInviteUsed(ctx, inv.ID, userID)
	})
	if err != nil {
		return domain.Membership{}, err
	}
	return membership, nil
}

// RemoveMember removes a membership. Owners cannot be removed; transfer
// ownership first. Members may remove themselves (leave), admins may remove
// plain members, owners may remove anyone but themselves.
func (s *OrgService) RemoveMember(ctx context.Context, requesterID, orgID, targetID string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		requester, err := s.requireMembership(ctx, tx, requesterID, orgID)
		if err != nil {
			return err
		}
		target, err := tx.Memberships().GetMembership(ctx, targetID, orgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		if target.IsOwner {
			return ErrForbidden
		}
		if requesterID != targetID {
			switch requester.Role {
			case domain.RoleOwner:
				// May remove anyone but themselves (covered above).
			case domain.RoleAdmin:
				if target.Role != domain.RoleMember {
					return ErrForbidden
				}
			default:
				return ErrForbidden
			}
		}

		if err := tx.Memberships().DeleteMembership(ctx, targetID, orgID); err != nil {
			return err
		}

		// A removed member must not keep acting in the org's context.
		active, err := tx.ActiveOrgs().GetActiveOrg(ctx, targetID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if active.OrgID == orgID {
			return tx.ActiveOrgs().ClearActiveOrg(ctx, targetID)
		}
		return nil
	})
}

// UpdateRole changes a member's role. Promoting to owner is an atomic
// ownership transfer: the current owner steps down to admin in the same
// transaction, preserving the single-owner invariant. Demoting the owner
// directly is forbidden.
func (s *OrgService) UpdateRole(ctx context.Context, requesterID, orgID, targetID, newRole string) error {
	if !domain.ValidRole(newRole) {
		return ErrInvalidInput
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		requester, err := s.requireMembership(ctx, tx, requesterID, orgID)
		if err != nil {
			return err
		}
		target, err := tx.Memberships().GetMembership(ctx, targetID, orgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		if newRole == domain.RoleOwner {
			if !requester.IsOwner {
				return ErrForbidden
			}
			if target.IsOwner {
				return nil // transferring to the owner is a no-op
			}
			// Demote before promote so the partial unique owner index never
			// sees two owner rows.
			if err := tx.Memberships().UpdateMembershipRole(ctx, requesterID, orgID, domain.RoleAdmin, false); err != nil {
				return err
			}
			return tx.Memberships().UpdateMembershipRole(ctx, targetID, orgID, domain.RoleOwner, true)
		}

		if target.IsOwner {
			// The owner cannot be demoted; ownership must move to someone
			// else first.
			return ErrForbidden
		}
		if requester.Role != domain.RoleOwner && requester.Role != domain.RoleAdmin {
			return ErrForbidden
		}
		return tx.Memberships().UpdateMembershipRole(ctx, targetID, orgID, newRole, false)
	})
}

// SwitchActiveOrg points the user's active context at another org they
// belong to.
func (s *OrgService) SwitchActiveOrg(ctx context.Context, userID, orgID string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Organizations().GetOrgByID(ctx, orgID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if _, err := s.requireMembership(ctx, tx, userID, orgID); err != nil {
			return err
		}
		return tx.ActiveOrgs().SetActiveOrg(ctx, userID, orgID)
	})
}

// requireMembership loads the caller's membership or reports ErrNotAMember.
func (s *OrgService) requireMembership(ctx context.Context, st store.Store, userID, orgID string) (domain.Membership, error) {
	m, err := st.Memberships().GetMembership(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Membership{}, ErrNotAMember
		}
		return domain.Membership{}, err
	}
	return m, nil
}

// slugify lowercases the name and collapses anything non-alphanumeric into
// single hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "org"
	}
	return out
}

// uniqueSlug finds a free slug by appending -2, -3, ... to the base, with a
// ULID tail as the collision-proof last resort.
func uniqueSlug(ctx context.Context, tx store.Tx, base string) (string, error) {
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		exists, err := tx.Organizations().SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return fmt.Sprintf("%s-%s", base, strings.ToLower(idx.New().String())), nil
}
