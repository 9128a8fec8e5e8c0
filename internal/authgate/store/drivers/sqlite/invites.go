package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
)

type invitesRepo struct {
	db dbtx
}

const inviteColumns = `id, token_hash, org_id, email, role, created_by, expires_at, used, used_by, created_at, updated_at`

func (r *invitesRepo) CreateInvite(ctx context.Context, inv domain.Invite) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invites (id, token_hash, org_id, email, role, created_by, expires_at, used, used_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
		inv.ID, inv.TokenHash, inv.OrgID, inv.Email, inv.Role, inv.CreatedBy, inv.ExpiresAt.UTC(), now, now)
	return mapConstraint(err)
}

func (r *invitesRepo) GetActiveInviteByTokenHash(ctx context.Context, hash string) (domain.Invite, error) {
	var (
		inv    domain.Invite
		usedBy sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites
		 WHERE token_hash = ? AND used = 0 AND expires_at > ?`,
		hash, time.Now().UTC()).
		Scan(&inv.ID, &inv.TokenHash, &inv.OrgID, &inv.Email, &inv.Role, &inv.CreatedBy,
			&inv.ExpiresAt, &inv.Used, &usedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return domain.Invite{}, mapNotFound(err)
	}
	inv.UsedBy = mapNullString(usedBy)
	return inv, nil
}

func (r *invitesRepo) MarkInviteUsed(ctx context.Context, inviteID string, usedByUserID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE invites SET used = 1, used_by = ?, updated_at = ? WHERE id = ?`,
		mapStringNull(usedByUserID), time.Now().UTC(), inviteID)
	return err
}

func (r *invitesRepo) DeleteExpiredInvites(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM invites WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
