package dto

import (
	"time"

	"basegraph.app/gatekeeper/internal/model"
)

type CreateUserRequest struct {
	Email     string         `json:"email" binding:"required,email,max=255"`
	Password  string         `json:"password" binding:"omitempty,min=8,max=128"`
	FirstName *string        `json:"first_name,omitempty" binding:"omitempty,max=255"`
	LastName  *string        `json:"last_name,omitempty" binding:"omitempty,max=255"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type UpdateUserRequest struct {
	FirstName     *string           `json:"first_name,omitempty" binding:"omitempty,max=255"`
	LastName      *string           `json:"last_name,omitempty" binding:"omitempty,max=255"`
	EmailVerified *bool             `json:"email_verified,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Status        *model.UserStatus `json:"status,omitempty" binding:"omitempty,oneof=active suspended"`
}

type RetryLinkRequest struct {
	Password string `json:"password" binding:"omitempty,min=8,max=128"`
}

type UserResponse struct {
	ID            int64          `json:"id,string"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	FirstName     *string        `json:"first_name,omitempty"`
	LastName      *string        `json:"last_name,omitempty"`
	ProviderID    *string        `json:"provider_id,omitempty"`
	AuthProvider  string         `json:"auth_provider"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	LastLoginAt   *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func ToUserResponse(u *model.User) *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		ProviderID:    u.ProviderLink,
		AuthProvider:  u.AuthProvider,
		Status:        string(u.Status),
		Metadata:      u.Metadata,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func ToUserResponses(users []model.User) []*UserResponse {
	out := make([]*UserResponse, len(users))
	for i := range users {
		out[i] = ToUserResponse(&users[i])
	}
	return out
}

type ProviderEventResponse struct {
	ID                 int64      `json:"id,string"`
	Kind               string     `json:"kind"`
	ProviderID         string     `json:"provider_id"`
	Email              string     `json:"email"`
	ProviderName       string     `json:"provider_name"`
	Outcome            string     `json:"outcome"`
	LocalUserID        *int64     `json:"local_user_id,string,omitempty"`
	ExistingProviderID *string    `json:"existing_provider_id,omitempty"`
	ResolvedBy         *string    `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func ToProviderEventResponse(pe *model.ProviderEvent) *ProviderEventResponse {
	return &ProviderEventResponse{
		ID:                 pe.ID,
		Kind:               pe.Kind,
		ProviderID:         pe.ProviderID,
		Email:              pe.Email,
		ProviderName:       pe.ProviderName,
		Outcome:            string(pe.Outcome),
		LocalUserID:        pe.LocalUserID,
		ExistingProviderID: pe.ExistingProviderID,
		ResolvedBy:         pe.ResolvedBy,
		ResolvedAt:         pe.ResolvedAt,
		CreatedAt:          pe.CreatedAt,
	}
}

type ResolveConflictRequest struct {
	Action     string `json:"action" binding:"required,oneof=dismiss relink"`
	ResolvedBy string `json:"resolved_by" binding:"required,max=255"`
}
