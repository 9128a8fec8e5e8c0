package sqlite

import (
	"context"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
)

type membershipsRepo struct {
	db dbtx
}

const membershipColumns = `user_id, org_id, role, is_owner, created_at, updated_at`

func (r *membershipsRepo) GetMembership(ctx context.Context, userID, orgID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM org_members WHERE user_id = ? AND org_id = ?`,
		userID, orgID).
		Scan(&m.UserID, &m.OrgID, &m.Role, &m.IsOwner, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Membership{}, mapNotFound(err)
	}
	return m, nil
}

func (r *membershipsRepo) CreateMembership(ctx context.Context, m domain.Membership) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO org_members (user_id, org_id, role, is_owner, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.UserID, m.OrgID, m.Role, m.IsOwner, now, now)
	return mapConstraint(err)
}

func (r *membershipsRepo) UpdateMembershipRole(ctx context.Context, userID, orgID, role string, isOwner bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE org_members SET role = ?, is_owner = ?, updated_at = ?
		 WHERE user_id = ? AND org_id = ?`,
		role, isOwner, time.Now().UTC(), userID, orgID)
	return mapConstraint(err)
}

func (r *membershipsRepo) DeleteMembership(ctx context.Context, userID, orgID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM org_members WHERE user_id = ? AND org_id = ?`, userID, orgID)
	return err
}

func (r *membershipsRepo) ListOrgMembers(ctx context.Context, orgID string) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM org_members
		 WHERE org_id = ? ORDER BY is_owner DESC, created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID, &m.OrgID, &m.Role, &m.IsOwner, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *membershipsRepo) ListUserMemberships(ctx context.Context, userID string) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM org_members
		 WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID, &m.OrgID, &m.Role, &m.IsOwner, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *membershipsRepo) GetOwner(ctx context.Context, orgID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM org_members WHERE org_id = ? AND is_owner = 1`,
		orgID).
		Scan(&m.UserID, &m.OrgID, &m.Role, &m.IsOwner, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Membership{}, mapNotFound(err)
	}
	return m, nil
}

func (r *membershipsRepo) CountMembers(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM org_members WHERE org_id = ?`, orgID).Scan(&n)
	return n, err
}
