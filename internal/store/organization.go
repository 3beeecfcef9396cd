package store

import (
	"context"
	"fmt"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const organizationColumns = `id, name, slug, settings, status, created_at, updated_at`

type organizationStore struct {
	db db.DBTX
}

func newOrganizationStore(conn db.DBTX) OrganizationStore {
	return &organizationStore{db: conn}
}

func (s *organizationStore) GetByID(ctx context.Context, id int64) (*model.Organization, error) {
	return scanOrganization(s.db.QueryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
}

func (s *organizationStore) GetBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	return scanOrganization(s.db.QueryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE slug = $1`, slug))
}

func (s *organizationStore) Create(ctx context.Context, org *model.Organization) error {
	settings, err := encodeJSON(org.Settings)
	if err != nil {
		return err
	}
	created, err := scanOrganization(s.db.QueryRow(ctx, `
		INSERT INTO organizations (id, name, slug, settings, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+organizationColumns,
		org.ID, org.Name, org.Slug, settings, org.Status,
	))
	if err != nil {
		return err
	}
	*org = *created
	return nil
}

func (s *organizationStore) Update(ctx context.Context, org *model.Organization) error {
	settings, err := encodeJSON(org.Settings)
	if err != nil {
		return err
	}
	updated, err := scanOrganization(s.db.QueryRow(ctx, `
		UPDATE organizations SET name = $2, slug = $3, settings = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+organizationColumns,
		org.ID, org.Name, org.Slug, settings, org.Status,
	))
	if err != nil {
		return err
	}
	*org = *updated
	return nil
}

// Delete removes the organization. Roles, memberships, invitations, API keys
// and webhook subscriptions go with it through ON DELETE CASCADE.
func (s *organizationStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List pages through organizations by name. A nil status lists every
// organization that is not deleted.
func (s *organizationStore) List(ctx context.Context, status *model.OrganizationStatus, limit, offset int32) ([]model.Organization, error) {
	return s.list(ctx, `
		SELECT `+organizationColumns+` FROM organizations
		WHERE ($1::text IS NULL AND status <> 'deleted') OR status = $1
		ORDER BY name, id
		LIMIT $2 OFFSET $3`, status, limit, offset)
}

func (s *organizationStore) ListByUser(ctx context.Context, userID int64) ([]model.Organization, error) {
	return s.list(ctx, `
		SELECT o.id, o.name, o.slug, o.settings, o.status, o.created_at, o.updated_at
		FROM organizations o
		JOIN memberships m ON m.organization_id = o.id
		WHERE m.user_id = $1 AND o.status <> 'deleted'
		ORDER BY o.name`, userID)
}

func (s *organizationStore) list(ctx context.Context, query string, args ...any) ([]model.Organization, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *o)
	}
	return orgs, rows.Err()
}

func scanOrganization(row rowScanner) (*model.Organization, error) {
	var (
		o   model.Organization
		raw []byte
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &raw, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	settings, err := decodeJSONMap(raw)
	if err != nil {
		return nil, fmt.Errorf("decode organization settings: %w", err)
	}
	o.Settings = settings
	return &o, nil
}
