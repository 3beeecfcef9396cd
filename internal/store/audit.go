package store

import (
	"context"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

type auditStore struct {
	db db.DBTX
}

func newAuditStore(conn db.DBTX) AuditStore {
	return &auditStore{db: conn}
}

// Record is idempotent on event id; redelivered stream messages are no-ops.
func (s *auditStore) Record(ctx context.Context, entry *model.AuditEntry) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO audit_entries (event_id, kind, organization_id, subject_ids, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		entry.EventID, entry.Kind, entry.OrganizationID, nonNilStrings(entry.SubjectIDs), []byte(entry.Payload), entry.EmittedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *auditStore) ListByOrganization(ctx context.Context, orgID int64, limit int32) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, kind, organization_id, subject_ids, payload, emitted_at, recorded_at
		FROM audit_entries
		WHERE organization_id = $1
		ORDER BY event_id DESC
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e       model.AuditEntry
			payload []byte
		)
		if err := rows.Scan(&e.EventID, &e.Kind, &e.OrganizationID, &e.SubjectIDs, &payload, &e.EmittedAt, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
