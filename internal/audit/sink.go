package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
)

type EventReader interface {
	GetByID(ctx context.Context, id int64) (*model.Event, error)
}

type Recorder interface {
	Record(ctx context.Context, entry *model.AuditEntry) (bool, error)
}

// Sink copies every event on the stream into the audit table. Recording is
// keyed by event id, so redelivered messages are no-ops.
type Sink struct {
	events EventReader
	audit  Recorder
}

func NewSink(events EventReader, audit Recorder) *Sink {
	return &Sink{events: events, audit: audit}
}

func (s *Sink) Process(ctx context.Context, msg eventbus.Message) error {
	event, err := s.events.GetByID(ctx, msg.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "audited event not found, skipping")
			return nil
		}
		return fmt.Errorf("loading event: %w", err)
	}

	recorded, err := s.audit.Record(ctx, &model.AuditEntry{
		EventID:        event.ID,
		Kind:           event.Kind,
		OrganizationID: event.OrganizationID,
		SubjectIDs:     event.SubjectIDs,
		Payload:        event.Payload,
		EmittedAt:      event.EmittedAt,
	})
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	if !recorded {
		slog.DebugContext(ctx, "audit entry already recorded")
		return nil
	}

	attrs := []any{
		"kind", event.Kind,
		"subject_ids", event.SubjectIDs,
		"emitted_at", event.EmittedAt,
	}
	if event.OrganizationID != nil {
		attrs = append(attrs, "organization_id", *event.OrganizationID)
	}
	slog.InfoContext(ctx, "audit", attrs...)
	return nil
}
