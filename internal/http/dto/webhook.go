package dto

import (
	"time"

	"basegraph.app/gatekeeper/internal/model"
)

type CreateSubscriptionRequest struct {
	OrganizationID *int64   `json:"organization_id,string,omitempty"`
	URL            string   `json:"url" binding:"required,url,max=2048"`
	Description    *string  `json:"description,omitempty" binding:"omitempty,max=500"`
	EventKinds     []string `json:"event_kinds" binding:"required,min=1,dive,event_kind"`
}

type UpdateSubscriptionRequest struct {
	URL         *string  `json:"url,omitempty" binding:"omitempty,url,max=2048"`
	Description *string  `json:"description,omitempty" binding:"omitempty,max=500"`
	EventKinds  []string `json:"event_kinds,omitempty" binding:"omitempty,min=1,dive,event_kind"`
}

type SubscriptionResponse struct {
	ID             int64      `json:"id,string"`
	OrganizationID *int64     `json:"organization_id,string,omitempty"`
	URL            string     `json:"url"`
	Description    *string    `json:"description,omitempty"`
	EventKinds     []string   `json:"event_kinds"`
	IsActive       bool       `json:"is_active"`
	FailureCount   int        `json:"failure_count"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Secret is only set on create and rotate.
	Secret string `json:"secret,omitempty"`
}

func ToSubscriptionResponse(s *model.WebhookSubscription) *SubscriptionResponse {
	return &SubscriptionResponse{
		ID:             s.ID,
		OrganizationID: s.OrganizationID,
		URL:            s.URL,
		Description:    s.Description,
		EventKinds:     s.EventKinds,
		IsActive:       s.IsActive,
		FailureCount:   s.FailureCount,
		LastSuccessAt:  s.LastSuccessAt,
		LastFailureAt:  s.LastFailureAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func ToSubscriptionResponses(subs []model.WebhookSubscription) []*SubscriptionResponse {
	out := make([]*SubscriptionResponse, len(subs))
	for i := range subs {
		out[i] = ToSubscriptionResponse(&subs[i])
	}
	return out
}

type DeliveryResponse struct {
	ID             int64      `json:"id,string"`
	DeliveryID     string     `json:"delivery_id"`
	SubscriptionID int64      `json:"subscription_id,string"`
	EventID        int64      `json:"event_id,string"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func ToDeliveryResponses(ds []model.WebhookDelivery) []DeliveryResponse {
	out := make([]DeliveryResponse, len(ds))
	for i, d := range ds {
		out[i] = DeliveryResponse{
			ID:             d.ID,
			DeliveryID:     d.DeliveryUUID.String(),
			SubscriptionID: d.SubscriptionID,
			EventID:        d.EventID,
			Status:         string(d.Status),
			Attempts:       d.Attempts,
			LastError:      d.LastError,
			CreatedAt:      d.CreatedAt,
		}
		if d.Status == model.DeliveryStatusPending {
			next := d.NextAttemptAt
			out[i].NextAttemptAt = &next
		}
	}
	return out
}

type AttemptResponse struct {
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

func ToAttemptResponses(as []model.WebhookAttempt) []AttemptResponse {
	out := make([]AttemptResponse, len(as))
	for i, a := range as {
		out[i] = AttemptResponse{
			AttemptNumber:  a.AttemptNumber,
			RequestURL:     a.RequestURL,
			RequestHeaders: a.RequestHeaders,
			RequestBody:    a.RequestBody,
			ResponseStatus: a.ResponseStatus,
			ResponseBody:   a.ResponseBody,
			ErrorMessage:   a.ErrorMessage,
			ElapsedMS:      a.ElapsedMS,
			Success:        a.Success,
			CreatedAt:      a.CreatedAt,
		}
	}
	return out
}
