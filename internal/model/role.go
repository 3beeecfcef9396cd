package model

import "time"

type Role struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	Permissions    []string  `json:"permissions"`
	IsDefault      bool      `json:"is_default"`
	IsSystem       bool      `json:"is_system"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SystemRole describes a role seeded into every new organization.
type SystemRole struct {
	Name        string
	Description string
	Permissions []string
	IsDefault   bool
}

const (
	RoleOwner  = "Owner"
	RoleAdmin  = "Admin"
	RoleMember = "Member"
)

// SystemRoles are created with every organization and cannot be changed afterwards.
var SystemRoles = []SystemRole{
	{Name: RoleOwner, Description: "Full access to the organization", Permissions: []string{"*:*"}},
	{Name: RoleAdmin, Description: "Manage users, roles and settings", Permissions: []string{"admin:*", "users:*", "roles:*"}},
	{Name: RoleMember, Description: "Read access", Permissions: []string{"read:*"}, IsDefault: true},
}
