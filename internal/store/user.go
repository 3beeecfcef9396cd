package store

import (
	"context"
	"encoding/json"
	"fmt"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const userColumns = `id, email, email_verified, first_name, last_name, provider_link,
	auth_provider, status, metadata, last_login_at, created_at, updated_at`

type userStore struct {
	db db.DBTX
}

func newUserStore(conn db.DBTX) UserStore {
	return &userStore{db: conn}
}

func (s *userStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *userStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, model.NormalizeEmail(email))
	return scanUser(row)
}

func (s *userStore) GetByProviderLink(ctx context.Context, providerID string) (*model.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE provider_link = $1`, providerID)
	return scanUser(row)
}

func (s *userStore) Create(ctx context.Context, user *model.User) error {
	meta, err := encodeJSON(user.Metadata)
	if err != nil {
		return err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, email_verified, first_name, last_name, provider_link, auth_provider, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+userColumns,
		user.ID, model.NormalizeEmail(user.Email), user.EmailVerified, user.FirstName, user.LastName,
		user.ProviderLink, user.AuthProvider, user.Status, meta,
	)
	created, err := scanUser(row)
	if err != nil {
		return err
	}
	*user = *created
	return nil
}

// Update writes profile fields. The provider link is left untouched.
func (s *userStore) Update(ctx context.Context, user *model.User) error {
	meta, err := encodeJSON(user.Metadata)
	if err != nil {
		return err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE users
		SET email = $2, email_verified = $3, first_name = $4, last_name = $5,
		    auth_provider = $6, status = $7, metadata = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		user.ID, model.NormalizeEmail(user.Email), user.EmailVerified, user.FirstName, user.LastName,
		user.AuthProvider, user.Status, meta,
	)
	updated, err := scanUser(row)
	if err != nil {
		return err
	}
	*user = *updated
	return nil
}

func (s *userStore) SetProviderLink(ctx context.Context, id int64, providerID *string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET provider_link = $2, updated_at = now() WHERE id = $1`, id, providerID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) SetStatus(ctx context.Context, id int64, status model.UserStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) TouchLogin(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, id)
	return err
}

func (s *userStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) List(ctx context.Context, limit, offset int32) ([]model.User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE status <> 'deleted'
		ORDER BY id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u       model.User
		rawMeta []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.FirstName, &u.LastName, &u.ProviderLink,
		&u.AuthProvider, &u.Status, &rawMeta, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	u.Metadata, err = decodeJSONMap(rawMeta)
	if err != nil {
		return nil, fmt.Errorf("decode user metadata: %w", err)
	}
	return &u, nil
}

func encodeJSON(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func decodeJSONMap(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
