package dto

type CheckRequest struct {
	UserID         int64  `json:"user_id,string" binding:"required"`
	OrganizationID int64  `json:"organization_id,string" binding:"required"`
	Permission     string `json:"permission" binding:"required,permission"`
}

type CheckManyRequest struct {
	UserID         int64    `json:"user_id,string" binding:"required"`
	OrganizationID int64    `json:"organization_id,string" binding:"required"`
	Permissions    []string `json:"permissions" binding:"required,min=1,dive,permission"`
}

type HasRoleRequest struct {
	UserID         int64  `json:"user_id,string" binding:"required"`
	OrganizationID int64  `json:"organization_id,string" binding:"required"`
	Role           string `json:"role" binding:"required"`
}

type CheckResponse struct {
	Allowed bool `json:"allowed"`
}

type PermissionsResponse struct {
	Permissions []string `json:"permissions"`
}
