package store

import (
	"context"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const providerEventColumns = `id, kind, provider_id, email, provider_name, notification_id, payload, outcome,
	local_user_id, existing_provider_id, resolved_by, resolved_at, created_at`

type providerEventStore struct {
	db db.DBTX
}

func newProviderEventStore(conn db.DBTX) ProviderEventStore {
	return &providerEventStore{db: conn}
}

func (s *providerEventStore) Create(ctx context.Context, ev *model.ProviderEvent) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	created, err := scanProviderEvent(s.db.QueryRow(ctx, `
		INSERT INTO provider_events (id, kind, provider_id, email, provider_name, notification_id, payload,
			outcome, local_user_id, existing_provider_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+providerEventColumns,
		ev.ID, ev.Kind, ev.ProviderID, model.NormalizeEmail(ev.Email), ev.ProviderName, ev.NotificationID, payload,
		ev.Outcome, ev.LocalUserID, ev.ExistingProviderID,
	))
	if err != nil {
		return err
	}
	*ev = *created
	return nil
}

func (s *providerEventStore) GetByID(ctx context.Context, id int64) (*model.ProviderEvent, error) {
	return scanProviderEvent(s.db.QueryRow(ctx, `SELECT `+providerEventColumns+` FROM provider_events WHERE id = $1`, id))
}

func (s *providerEventStore) GetByNotificationID(ctx context.Context, notificationID string) (*model.ProviderEvent, error) {
	return scanProviderEvent(s.db.QueryRow(ctx,
		`SELECT `+providerEventColumns+` FROM provider_events WHERE notification_id = $1`, notificationID))
}

func (s *providerEventStore) ListConflicts(ctx context.Context, limit int32) ([]model.ProviderEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+providerEventColumns+` FROM provider_events
		WHERE outcome = 'conflict'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProviderEvent
	for rows.Next() {
		ev, err := scanProviderEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (s *providerEventStore) Resolve(ctx context.Context, id int64, outcome model.ProviderEventOutcome, resolvedBy string) (*model.ProviderEvent, error) {
	return scanProviderEvent(s.db.QueryRow(ctx, `
		UPDATE provider_events SET outcome = $2, resolved_by = $3, resolved_at = now()
		WHERE id = $1 AND outcome = 'conflict'
		RETURNING `+providerEventColumns,
		id, outcome, resolvedBy,
	))
}

func scanProviderEvent(row rowScanner) (*model.ProviderEvent, error) {
	var (
		ev      model.ProviderEvent
		payload []byte
	)
	err := row.Scan(&ev.ID, &ev.Kind, &ev.ProviderID, &ev.Email, &ev.ProviderName, &ev.NotificationID, &payload, &ev.Outcome,
		&ev.LocalUserID, &ev.ExistingProviderID, &ev.ResolvedBy, &ev.ResolvedAt, &ev.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	ev.Payload = payload
	return &ev, nil
}
