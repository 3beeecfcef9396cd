package model

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"basegraph.app/gatekeeper/internal/domain"
)

// WebhookSubscription with a nil OrganizationID receives events from every organization.
type WebhookSubscription struct {
	ID             int64      `json:"id"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	Description    *string    `json:"description,omitempty"`
	EventKinds     []string   `json:"event_kinds"`
	IsActive       bool       `json:"is_active"`
	FailureCount   int        `json:"failure_count"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Wants reports whether the subscription's kind list covers kind.
func (s *WebhookSubscription) Wants(kind domain.EventKind) bool {
	return slices.Contains(s.EventKinds, domain.AllEvents) || slices.Contains(s.EventKinds, string(kind))
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

// WebhookDelivery is the job that carries one event to one subscription.
type WebhookDelivery struct {
	ID             int64          `json:"id"`
	DeliveryUUID   uuid.UUID      `json:"delivery_id"`
	SubscriptionID int64          `json:"subscription_id"`
	EventID        int64          `json:"event_id"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	LastError      *string        `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// WebhookAttempt is the immutable record of one delivery try, stored exactly
// as sent and received.
type WebhookAttempt struct {
	ID             int64             `json:"id"`
	DeliveryID     int64             `json:"delivery_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventID        int64             `json:"event_id"`
	AttemptNumber  int               `json:"attempt_number"`
	RequestURL     string            `json:"request_url"`
	RequestHeaders map[string]string `json:"request_headers"`
	RequestBody    string            `json:"request_body"`
	ResponseStatus *int              `json:"response_status,omitempty"`
	ResponseBody   *string           `json:"response_body,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	ElapsedMS      int64             `json:"elapsed_ms"`
	Success        bool              `json:"success"`
	CreatedAt      time.Time         `json:"created_at"`
}
