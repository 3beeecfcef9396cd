package store

import (
	"context"
	"time"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const apiKeyColumns = `id, organization_id, name, description, prefix, key_hash, scopes, rate_limit, is_active,
	created_by, expires_at, last_used_at, created_at, updated_at`

type apiKeyStore struct {
	db db.DBTX
}

func newAPIKeyStore(conn db.DBTX) APIKeyStore {
	return &apiKeyStore{db: conn}
}

func (s *apiKeyStore) Create(ctx context.Context, key *model.APIKey) error {
	created, err := scanAPIKey(s.db.QueryRow(ctx, `
		INSERT INTO api_keys (id, organization_id, name, description, prefix, key_hash, scopes, rate_limit, is_active, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+apiKeyColumns,
		key.ID, key.OrganizationID, key.Name, key.Description, key.Prefix, key.KeyHash,
		nonNilStrings(key.Scopes), key.RateLimit, key.IsActive, key.CreatedBy, key.ExpiresAt,
	))
	if err != nil {
		return err
	}
	*key = *created
	return nil
}

func (s *apiKeyStore) GetByID(ctx context.Context, id int64) (*model.APIKey, error) {
	return scanAPIKey(s.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
}

func (s *apiKeyStore) GetByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return scanAPIKey(s.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
}

func (s *apiKeyStore) ListByOrganization(ctx context.Context, orgID int64, activeOnly bool, limit, offset int32) ([]model.APIKey, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE organization_id = $1 AND (NOT $2 OR is_active)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, orgID, activeOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *apiKeyStore) Update(ctx context.Context, key *model.APIKey) error {
	updated, err := scanAPIKey(s.db.QueryRow(ctx, `
		UPDATE api_keys
		SET name = $2, description = $3, scopes = $4, rate_limit = $5, is_active = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+apiKeyColumns,
		key.ID, key.Name, key.Description, nonNilStrings(key.Scopes), key.RateLimit, key.IsActive,
	))
	if err != nil {
		return err
	}
	*key = *updated
	return nil
}

func (s *apiKeyStore) Rotate(ctx context.Context, id int64, prefix, hash string, expiresAt *time.Time) (*model.APIKey, error) {
	return scanAPIKey(s.db.QueryRow(ctx, `
		UPDATE api_keys
		SET prefix = $2, key_hash = $3, expires_at = COALESCE($4, expires_at), updated_at = now()
		WHERE id = $1
		RETURNING `+apiKeyColumns,
		id, prefix, hash, expiresAt,
	))
}

func (s *apiKeyStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *apiKeyStore) TouchLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

func (s *apiKeyStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys SET is_active = false, updated_at = now()
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanAPIKey(row rowScanner) (*model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(
		&k.ID, &k.OrganizationID, &k.Name, &k.Description, &k.Prefix, &k.KeyHash, &k.Scopes, &k.RateLimit,
		&k.IsActive, &k.CreatedBy, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &k, nil
}
