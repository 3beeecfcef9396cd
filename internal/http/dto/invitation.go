package dto

import (
	"time"

	"basegraph.app/gatekeeper/internal/model"
)

type CreateInvitationRequest struct {
	Email     string `json:"email" binding:"required,email,max=255"`
	RoleID    *int64 `json:"role_id,string,omitempty"`
	InvitedBy *int64 `json:"invited_by,string,omitempty"`
}

type AcceptInvitationRequest struct {
	Token string `json:"token" binding:"required"`
}

type InvitationResponse struct {
	ID             int64      `json:"id,string"`
	OrganizationID int64      `json:"organization_id,string"`
	Email          string     `json:"email"`
	RoleID         *int64     `json:"role_id,string,omitempty"`
	Status         string     `json:"status"`
	InviteURL      string     `json:"invite_url,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
}

func ToInvitationResponse(inv *model.Invitation) *InvitationResponse {
	return &InvitationResponse{
		ID:             inv.ID,
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		RoleID:         inv.RoleID,
		Status:         string(inv.Status),
		ExpiresAt:      inv.ExpiresAt,
		CreatedAt:      inv.CreatedAt,
		AcceptedAt:     inv.AcceptedAt,
	}
}

func ToInvitationResponses(invs []model.Invitation) []*InvitationResponse {
	out := make([]*InvitationResponse, len(invs))
	for i := range invs {
		out[i] = ToInvitationResponse(&invs[i])
	}
	return out
}

type ValidateInvitationResponse struct {
	Email          string    `json:"email"`
	OrganizationID int64     `json:"organization_id,string"`
	ExpiresAt      time.Time `json:"expires_at"`
	Valid          bool      `json:"valid"`
}
