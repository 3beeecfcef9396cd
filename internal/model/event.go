package model

import (
	"encoding/json"
	"time"

	"basegraph.app/gatekeeper/internal/domain"
)

// Event is an immutable entry in the event log.
type Event struct {
	ID             int64            `json:"id"`
	Kind           domain.EventKind `json:"kind"`
	OrganizationID *int64           `json:"organization_id,omitempty"`
	SubjectIDs     []string         `json:"subject_ids"`
	Payload        json.RawMessage  `json:"payload"`
	TraceID        *string          `json:"-"`
	EmittedAt      time.Time        `json:"emitted_at"`
}

// AuditEntry is the audit sink's copy of an event.
type AuditEntry struct {
	EventID        int64            `json:"event_id"`
	Kind           domain.EventKind `json:"kind"`
	OrganizationID *int64           `json:"organization_id,omitempty"`
	SubjectIDs     []string         `json:"subject_ids"`
	Payload        json.RawMessage  `json:"payload"`
	EmittedAt      time.Time        `json:"emitted_at"`
	RecordedAt     time.Time        `json:"recorded_at"`
}
