package store

import (
	"context"
	"time"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const eventColumns = `id, kind, organization_id, subject_ids, payload, trace_id, emitted_at`

type eventStore struct {
	db db.DBTX
}

func newEventStore(conn db.DBTX) EventStore {
	return &eventStore{db: conn}
}

// Append writes the event and its outbox marker. Both must share the caller's
// transaction so an event exists iff the mutation that caused it committed.
func (s *eventStore) Append(ctx context.Context, event *model.Event) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO events (id, kind, organization_id, subject_ids, payload, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING emitted_at`,
		event.ID, event.Kind, event.OrganizationID, nonNilStrings(event.SubjectIDs), []byte(event.Payload), event.TraceID,
	).Scan(&event.EmittedAt)
	if err != nil {
		return translate(err)
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO event_outbox (event_id) VALUES ($1)`, event.ID); err != nil {
		return translate(err)
	}
	return nil
}

func (s *eventStore) GetByID(ctx context.Context, id int64) (*model.Event, error) {
	return scanEvent(s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

func (s *eventStore) ListByOrganization(ctx context.Context, orgID int64, limit int32) ([]model.Event, error) {
	return s.list(ctx, `SELECT `+eventColumns+` FROM events WHERE organization_id = $1 ORDER BY id DESC LIMIT $2`, orgID, limit)
}

func (s *eventStore) ClearOutbox(ctx context.Context, eventID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM event_outbox WHERE event_id = $1`, eventID)
	return err
}

// ListOutbox returns events whose outbox marker is older than olderThan, oldest first.
func (s *eventStore) ListOutbox(ctx context.Context, olderThan time.Time, limit int32) ([]model.Event, error) {
	return s.list(ctx, `
		SELECT e.id, e.kind, e.organization_id, e.subject_ids, e.payload, e.trace_id, e.emitted_at
		FROM event_outbox o
		JOIN events e ON e.id = o.event_id
		WHERE o.created_at < $1
		ORDER BY e.id
		LIMIT $2`, olderThan, limit)
}

func (s *eventStore) MarkFannedOut(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE events SET fanned_out_at = now() WHERE id = $1 AND fanned_out_at IS NULL`, id)
	return err
}

// ListPendingFanout returns events with no fan-out marker emitted before
// olderThan, oldest first.
func (s *eventStore) ListPendingFanout(ctx context.Context, olderThan time.Time, limit int32) ([]model.Event, error) {
	return s.list(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE fanned_out_at IS NULL AND emitted_at < $1
		ORDER BY id
		LIMIT $2`, olderThan, limit)
}

func (s *eventStore) list(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var (
		e       model.Event
		payload []byte
	)
	if err := row.Scan(&e.ID, &e.Kind, &e.OrganizationID, &e.SubjectIDs, &payload, &e.TraceID, &e.EmittedAt); err != nil {
		return nil, translate(err)
	}
	e.Payload = payload
	return &e, nil
}
