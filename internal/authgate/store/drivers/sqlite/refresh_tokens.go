package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

const refreshTokenColumns = `id, user_id, token_hash, parent_id, idp_refresh_token, expires_at, revoked, created_at, updated_at`

func scanRefreshToken(row *sql.Row) (domain.RefreshToken, error) {
	var (
		t      domain.RefreshToken
		parent sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &parent, &t.IdPRefreshToken,
		&t.ExpiresAt, &t.Revoked, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ParentID = mapNullString(parent)
	return t, nil
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, parent_id, idp_refresh_token, expires_at, revoked, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, mapStringNull(t.ParentID), t.IdPRefreshToken,
		t.ExpiresAt.UTC(), now, now)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash))
}

func (r *refreshTokensRepo) GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE id = ?`, id))
}

// RevokeRefreshTokenIfActive is the compare-and-set at the heart of rotation:
// the WHERE revoked = 0 clause means only one concurrent caller observes a
// row flip, and that caller is the sole winner.
func (r *refreshTokensRepo) RevokeRefreshTokenIfActive(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE id = ? AND revoked = 0`,
		time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

func (r *refreshTokensRepo) GetChildRefreshToken(ctx context.Context, id string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE parent_id = ?`, id))
}

func (r *refreshTokensRepo) UpdateIdPRefreshToken(ctx context.Context, id string, idpToken string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET idp_refresh_token = ?, updated_at = ? WHERE id = ?`,
		idpToken, time.Now().UTC(), id)
	return err
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE user_id = ? AND revoked = 0`,
		time.Now().UTC(), userID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
