package dto

import (
	"time"

	"basegraph.app/gatekeeper/internal/model"
)

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required,min=1,max=100"`
	Description *string  `json:"description,omitempty" binding:"omitempty,max=500"`
	Permissions []string `json:"permissions" binding:"dive,permission"`
	IsDefault   bool     `json:"is_default"`
}

type RenameRoleRequest struct {
	Name        string  `json:"name" binding:"required,min=1,max=100"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
}

type PermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required,dive,permission"`
}

type RoleResponse struct {
	ID             int64     `json:"id,string"`
	OrganizationID int64     `json:"organization_id,string"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	Permissions    []string  `json:"permissions"`
	IsDefault      bool      `json:"is_default"`
	IsSystem       bool      `json:"is_system"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func ToRoleResponse(r *model.Role) *RoleResponse {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return &RoleResponse{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Description:    r.Description,
		Permissions:    perms,
		IsDefault:      r.IsDefault,
		IsSystem:       r.IsSystem,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func ToRoleResponses(roles []model.Role) []*RoleResponse {
	out := make([]*RoleResponse, len(roles))
	for i := range roles {
		out[i] = ToRoleResponse(&roles[i])
	}
	return out
}
