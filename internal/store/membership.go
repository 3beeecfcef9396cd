package store

import (
	"context"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const membershipColumns = `id, user_id, organization_id, role_id, status, joined_at, created_at, updated_at`

type membershipStore struct {
	db db.DBTX
}

func newMembershipStore(conn db.DBTX) MembershipStore {
	return &membershipStore{db: conn}
}

func (s *membershipStore) Get(ctx context.Context, userID, orgID int64) (*model.Membership, error) {
	return scanMembership(s.db.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND organization_id = $2`, userID, orgID))
}

// Upsert relies on the (user_id, organization_id) constraint: a second grant
// for the same pair updates role and status in place. xmax = 0 only for a
// freshly inserted row.
func (s *membershipStore) Upsert(ctx context.Context, m *model.Membership) (bool, error) {
	var created bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO memberships (id, user_id, organization_id, role_id, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT memberships_user_org_key DO UPDATE
		SET role_id = EXCLUDED.role_id, status = EXCLUDED.status, updated_at = now()
		RETURNING `+membershipColumns+`, (xmax = 0)`,
		m.ID, m.UserID, m.OrganizationID, m.RoleID, m.Status,
	).Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.RoleID, &m.Status, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt, &created)
	if err != nil {
		return false, translate(err)
	}
	return created, nil
}

// Update changes role and status of an existing membership.
func (s *membershipStore) Update(ctx context.Context, m *model.Membership) error {
	updated, err := scanMembership(s.db.QueryRow(ctx, `
		UPDATE memberships SET role_id = $3, status = $4, updated_at = now()
		WHERE user_id = $1 AND organization_id = $2
		RETURNING `+membershipColumns,
		m.UserID, m.OrganizationID, m.RoleID, m.Status,
	))
	if err != nil {
		return err
	}
	*m = *updated
	return nil
}

func (s *membershipStore) Delete(ctx context.Context, userID, orgID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1 AND organization_id = $2`, userID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *membershipStore) ListByOrganization(ctx context.Context, orgID int64) ([]model.Membership, error) {
	return s.list(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE organization_id = $1 ORDER BY joined_at`, orgID)
}

func (s *membershipStore) ListByUser(ctx context.Context, userID int64) ([]model.Membership, error) {
	return s.list(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 ORDER BY joined_at`, userID)
}

func (s *membershipStore) list(ctx context.Context, query string, arg int64) ([]model.Membership, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// AccessSnapshot joins membership to role in one statement. Postgres evaluates
// a single statement against one snapshot, so a concurrent role update is
// seen entirely or not at all.
func (s *membershipStore) AccessSnapshot(ctx context.Context, userID, orgID int64) (*model.AccessSnapshot, error) {
	var snap model.AccessSnapshot
	err := s.db.QueryRow(ctx, `
		SELECT m.status, r.id, r.name, r.permissions
		FROM memberships m
		JOIN users u ON u.id = m.user_id AND u.status = 'active'
		JOIN organizations o ON o.id = m.organization_id AND o.status = 'active'
		LEFT JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND m.organization_id = $2`,
		userID, orgID,
	).Scan(&snap.MembershipStatus, &snap.RoleID, &snap.RoleName, &snap.Permissions)
	if err != nil {
		return nil, translate(err)
	}
	return &snap, nil
}

func scanMembership(row rowScanner) (*model.Membership, error) {
	var m model.Membership
	err := row.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.RoleID, &m.Status, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}
