package dto

import (
	"time"

	"basegraph.app/gatekeeper/internal/model"
)

type AddMemberRequest struct {
	UserID int64  `json:"user_id,string" binding:"required"`
	RoleID *int64 `json:"role_id,string,omitempty"`
}

// UpdateMembershipRequest leaves omitted fields unchanged.
type UpdateMembershipRequest struct {
	RoleID *int64  `json:"role_id,string,omitempty"`
	Status *string `json:"status,omitempty" binding:"omitempty,oneof=active suspended pending"`
}

type MembershipResponse struct {
	ID             int64     `json:"id,string"`
	UserID         int64     `json:"user_id,string"`
	OrganizationID int64     `json:"organization_id,string"`
	RoleID         *int64    `json:"role_id,string,omitempty"`
	Status         string    `json:"status"`
	JoinedAt       time.Time `json:"joined_at"`
}

func ToMembershipResponse(m *model.Membership) *MembershipResponse {
	return &MembershipResponse{
		ID:             m.ID,
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		RoleID:         m.RoleID,
		Status:         string(m.Status),
		JoinedAt:       m.JoinedAt,
	}
}

func ToMembershipResponses(ms []model.Membership) []*MembershipResponse {
	out := make([]*MembershipResponse, len(ms))
	for i := range ms {
		out[i] = ToMembershipResponse(&ms[i])
	}
	return out
}
