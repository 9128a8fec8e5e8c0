package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/opsledger/authgate/internal/authgate/domain"
)

type organizationsRepo struct {
	db dbtx
}

const orgColumns = `id, name, slug, is_deleted, metadata, created_at, updated_at`

func scanOrg(row *sql.Row) (domain.Organization, error) {
	var (
		o        domain.Organization
		metadata string
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.IsDeleted, &metadata, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Organization{}, mapNotFound(err)
	}
	o.Metadata = json.RawMessage(metadata)
	return o, nil
}

func (r *organizationsRepo) GetOrgByID(ctx context.Context, id string) (domain.Organization, error) {
	return scanOrg(r.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = ? AND is_deleted = 0`, id))
}

func (r *organizationsRepo) GetOrgBySlug(ctx context.Context, slug string) (domain.Organization, error) {
	return scanOrg(r.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE slug = ? AND is_deleted = 0`, slug))
}

func (r *organizationsRepo) CreateOrg(ctx context.Context, o domain.Organization) error {
	now := time.Now().UTC()
	metadata := string(o.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, slug, is_deleted, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?)`,
		o.ID, o.Name, o.Slug, metadata, now, now)
	return mapConstraint(err)
}

func (r *organizationsRepo) UpdateOrgName(ctx context.Context, orgID string, name string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET name = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		name, time.Now().UTC(), orgID)
	return err
}

func (r *organizationsRepo) SoftDeleteOrg(ctx context.Context, orgID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET is_deleted = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), orgID)
	return err
}

func (r *organizationsRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM organizations WHERE slug = ? AND is_deleted = 0`, slug).Scan(&n)
	return n > 0, err
}
