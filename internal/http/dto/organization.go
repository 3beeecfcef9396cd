package dto

import (
	"time"

	"basegraph.app/gatekeeper/internal/model"
)

type CreateOrganizationRequest struct {
	Name      string  `json:"name" binding:"required,min=1,max=255"`
	Slug      *string `json:"slug,omitempty" binding:"omitempty,min=1,max=48"`
	CreatorID *int64  `json:"creator_id,string,omitempty"`
}

// UpdateOrganizationRequest leaves omitted fields unchanged.
type UpdateOrganizationRequest struct {
	Name     *string        `json:"name,omitempty" binding:"omitempty,min=1,max=255"`
	Slug     *string        `json:"slug,omitempty" binding:"omitempty,min=1,max=48"`
	Settings map[string]any `json:"settings,omitempty"`
	Status   *string        `json:"status,omitempty" binding:"omitempty,oneof=active suspended"`
}

type OrganizationResponse struct {
	ID        int64          `json:"id,string"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Status    string         `json:"status"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func ToOrganizationResponse(org *model.Organization) *OrganizationResponse {
	settings := org.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	return &OrganizationResponse{
		ID:        org.ID,
		Name:      org.Name,
		Slug:      org.Slug,
		Status:    string(org.Status),
		Settings:  settings,
		CreatedAt: org.CreatedAt,
		UpdatedAt: org.UpdatedAt,
	}
}

func ToOrganizationResponses(orgs []model.Organization) []*OrganizationResponse {
	out := make([]*OrganizationResponse, len(orgs))
	for i := range orgs {
		out[i] = ToOrganizationResponse(&orgs[i])
	}
	return out
}

type EventResponse struct {
	ID             int64     `json:"id,string"`
	Kind           string    `json:"kind"`
	OrganizationID *int64    `json:"organization_id,string,omitempty"`
	SubjectIDs     []string  `json:"subject_ids"`
	Payload        any       `json:"payload"`
	EmittedAt      time.Time `json:"emitted_at"`
}

func ToEventResponses(events []model.Event) []EventResponse {
	out := make([]EventResponse, len(events))
	for i, e := range events {
		out[i] = EventResponse{
			ID:             e.ID,
			Kind:           string(e.Kind),
			OrganizationID: e.OrganizationID,
			SubjectIDs:     e.SubjectIDs,
			Payload:        e.Payload,
			EmittedAt:      e.EmittedAt,
		}
	}
	return out
}

type AuditEntryResponse struct {
	EventID    int64     `json:"event_id,string"`
	Kind       string    `json:"kind"`
	SubjectIDs []string  `json:"subject_ids"`
	Payload    any       `json:"payload"`
	EmittedAt  time.Time `json:"emitted_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

func ToAuditEntryResponses(entries []model.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			EventID:    e.EventID,
			Kind:       string(e.Kind),
			SubjectIDs: e.SubjectIDs,
			Payload:    e.Payload,
			EmittedAt:  e.EmittedAt,
			RecordedAt: e.RecordedAt,
		}
	}
	return out
}
