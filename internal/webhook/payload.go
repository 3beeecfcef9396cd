package webhook

import (
	"encoding/json"
	"strconv"
	"time"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
)

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	ID             string           `json:"id" jsonschema:"description=Event id. Stable across retries; use it to deduplicate."`
	Event          domain.EventKind `json:"event" jsonschema:"description=Event kind, e.g. user.linked"`
	Timestamp      time.Time        `json:"timestamp" jsonschema:"description=When the event was emitted"`
	OrganizationID *int64           `json:"organization_id" jsonschema:"description=Owning organization; null for global events"`
	Data           json.RawMessage  `json:"data" jsonschema:"description=Kind-specific payload"`
}

// buildBody renders the envelope. Output is deterministic for a given event,
// so every retry sends identical bytes.
func buildBody(e *model.Event) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:             strconv.FormatInt(e.ID, 10),
		Event:          e.Kind,
		Timestamp:      e.EmittedAt.UTC(),
		OrganizationID: e.OrganizationID,
		Data:           e.Payload,
	})
}
