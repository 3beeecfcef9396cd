package model

import (
	"encoding/json"
	"time"
)

type ProviderEventOutcome string

const (
	ProviderEventApplied   ProviderEventOutcome = "applied"
	ProviderEventConflict  ProviderEventOutcome = "conflict"
	ProviderEventDismissed ProviderEventOutcome = "dismissed"
	ProviderEventRelinked  ProviderEventOutcome = "relinked"
)

// ProviderEvent is the stored copy of a provider-originated credential notification.
type ProviderEvent struct {
	ID                 int64                `json:"id"`
	Kind               string               `json:"kind"`
	ProviderID         string               `json:"provider_id"`
	Email              string               `json:"email"`
	ProviderName       string               `json:"provider_name"`
	NotificationID     *string              `json:"notification_id,omitempty"`
	Payload            json.RawMessage      `json:"payload"`
	Outcome            ProviderEventOutcome `json:"outcome"`
	LocalUserID        *int64               `json:"local_user_id,omitempty"`
	ExistingProviderID *string              `json:"existing_provider_id,omitempty"`
	ResolvedBy         *string              `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time           `json:"resolved_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}
