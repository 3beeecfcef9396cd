package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
)

// Draft is an event before it is appended to the log.
type Draft struct {
	Kind           domain.EventKind
	OrganizationID *int64
	SubjectIDs     []string
	Data           any
}

// Appender is the slice of store.EventStore needed to append events.
type Appender interface {
	Append(ctx context.Context, event *model.Event) error
}

// Append writes d to the event log. Call it with the transaction's event
// store so the event commits or rolls back with the mutation it describes,
// then hand the returned events to a Publisher after commit.
func Append(ctx context.Context, events Appender, d Draft) (model.Event, error) {
	payload, err := json.Marshal(d.Data)
	if err != nil {
		return model.Event{}, fmt.Errorf("marshal %s payload: %w", d.Kind, err)
	}

	e := model.Event{
		ID:             id.New(),
		Kind:           d.Kind,
		OrganizationID: d.OrganizationID,
		SubjectIDs:     d.SubjectIDs,
		Payload:        payload,
	}
	if traceID := logger.TraceID(ctx); traceID != "" {
		e.TraceID = &traceID
	}

	if err := events.Append(ctx, &e); err != nil {
		return model.Event{}, fmt.Errorf("append %s event: %w", d.Kind, err)
	}
	return e, nil
}

// Batch collects events appended during one transaction.
type Batch struct {
	events []model.Event
}

func (b *Batch) Add(ctx context.Context, events Appender, d Draft) error {
	e, err := Append(ctx, events, d)
	if err != nil {
		return err
	}
	b.events = append(b.events, e)
	return nil
}

func (b *Batch) Events() []model.Event {
	return b.events
}

// Reset drops collected events. Call it at the top of a transaction body
// that may be retried.
func (b *Batch) Reset() {
	b.events = b.events[:0]
}
