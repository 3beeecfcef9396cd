package store

import (
	"context"
	"time"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const invitationColumns = `id, organization_id, email, role_id, token, status, invited_by, accepted_by,
	expires_at, created_at, accepted_at`

type invitationStore struct {
	db db.DBTX
}

func newInvitationStore(conn db.DBTX) InvitationStore {
	return &invitationStore{db: conn}
}

func (s *invitationStore) Create(ctx context.Context, inv *model.Invitation) error {
	created, err := scanInvitation(s.db.QueryRow(ctx, `
		INSERT INTO invitations (id, organization_id, email, role_id, token, status, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+invitationColumns,
		inv.ID, inv.OrganizationID, model.NormalizeEmail(inv.Email), inv.RoleID, inv.Token, inv.Status,
		inv.InvitedBy, inv.ExpiresAt,
	))
	if err != nil {
		return err
	}
	*inv = *created
	return nil
}

func (s *invitationStore) GetByID(ctx context.Context, id int64) (*model.Invitation, error) {
	return scanInvitation(s.db.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
}

func (s *invitationStore) GetByToken(ctx context.Context, token string) (*model.Invitation, error) {
	return scanInvitation(s.db.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token))
}

func (s *invitationStore) ListByOrganization(ctx context.Context, orgID int64) ([]model.Invitation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (s *invitationStore) Accept(ctx context.Context, id, userID int64) (*model.Invitation, error) {
	return scanInvitation(s.db.QueryRow(ctx, `
		UPDATE invitations SET status = 'accepted', accepted_by = $2, accepted_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+invitationColumns,
		id, userID,
	))
}

func (s *invitationStore) Revoke(ctx context.Context, id int64) (*model.Invitation, error) {
	return scanInvitation(s.db.QueryRow(ctx, `
		UPDATE invitations SET status = 'revoked'
		WHERE id = $1 AND status = 'pending'
		RETURNING `+invitationColumns,
		id,
	))
}

func (s *invitationStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE invitations SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanInvitation(row rowScanner) (*model.Invitation, error) {
	var inv model.Invitation
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.RoleID, &inv.Token, &inv.Status,
		&inv.InvitedBy, &inv.AcceptedBy, &inv.ExpiresAt, &inv.CreatedAt, &inv.AcceptedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}
