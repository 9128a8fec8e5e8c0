package sqlite

import (
	"context"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
)

type activeOrgsRepo struct {
	db dbtx
}

func (r *activeOrgsRepo) GetActiveOrg(ctx context.Context, userID string) (domain.ActiveOrgContext, error) {
	var a domain.ActiveOrgContext
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, org_id, updated_at FROM active_org_context WHERE user_id = ?`,
		userID).
		Scan(&a.UserID, &a.OrgID, &a.UpdatedAt)
	if err != nil {
		return domain.ActiveOrgContext{}, mapNotFound(err)
	}
	return a, nil
}

func (r *activeOrgsRepo) SetActiveOrg(ctx context.Context, userID, orgID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO active_org_context (user_id, org_id, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET org_id = excluded.org_id, updated_at = excluded.updated_at`,
		userID, orgID, time.Now().UTC())
	return err
}

func (r *activeOrgsRepo) ClearActiveOrg(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM active_org_context WHERE user_id = ?`, userID)
	return err
}

func (r *activeOrgsRepo) ClearActiveOrgForOrg(ctx context.Context, orgID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM active_org_context WHERE org_id = ?`, orgID)
	return err
}
