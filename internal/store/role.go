package store

import (
	"context"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const roleColumns = `id, organization_id, name, description, permissions, is_default, is_system, created_at, updated_at`

type roleStore struct {
	db db.DBTX
}

func newRoleStore(conn db.DBTX) RoleStore {
	return &roleStore{db: conn}
}

func (s *roleStore) GetByID(ctx context.Context, id int64) (*model.Role, error) {
	return scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

func (s *roleStore) GetByName(ctx context.Context, orgID int64, name string) (*model.Role, error) {
	return scanRole(s.db.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE organization_id = $1 AND name = $2`, orgID, name))
}

func (s *roleStore) GetDefault(ctx context.Context, orgID int64) (*model.Role, error) {
	return scanRole(s.db.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE organization_id = $1 AND is_default`, orgID))
}

func (s *roleStore) ListByOrganization(ctx context.Context, orgID int64) ([]model.Role, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE organization_id = $1 ORDER BY is_system DESC, name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []model.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *r)
	}
	return roles, rows.Err()
}

func (s *roleStore) Create(ctx context.Context, role *model.Role) error {
	created, err := scanRole(s.db.QueryRow(ctx, `
		INSERT INTO roles (id, organization_id, name, description, permissions, is_default, is_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+roleColumns,
		role.ID, role.OrganizationID, role.Name, role.Description, nonNilStrings(role.Permissions),
		role.IsDefault, role.IsSystem,
	))
	if err != nil {
		return err
	}
	*role = *created
	return nil
}

// Update writes name and description only.
func (s *roleStore) Update(ctx context.Context, role *model.Role) error {
	updated, err := scanRole(s.db.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+roleColumns,
		role.ID, role.Name, role.Description,
	))
	if err != nil {
		return err
	}
	*role = *updated
	return nil
}

// SetPermissions replaces the permission array in a single statement, so a
// concurrent snapshot read sees either the old or the new set.
func (s *roleStore) SetPermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error) {
	return scanRole(s.db.QueryRow(ctx, `
		UPDATE roles SET permissions = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+roleColumns,
		id, nonNilStrings(permissions),
	))
}

func (s *roleStore) ClearDefault(ctx context.Context, orgID int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE roles SET is_default = FALSE, updated_at = now() WHERE organization_id = $1 AND is_default`, orgID)
	return err
}

func (s *roleStore) SetDefault(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE roles SET is_default = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the role; memberships referencing it get a NULL role_id.
func (s *roleStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRole(row rowScanner) (*model.Role, error) {
	var r model.Role
	err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.Description, &r.Permissions,
		&r.IsDefault, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	r.Permissions = nonNilStrings(r.Permissions)
	return &r, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
