package dto

import (
	"time"

	"basegraph.app/gatekeeper/internal/model"
)

type CreateAPIKeyRequest struct {
	Name        string     `json:"name" binding:"required,min=1,max=100"`
	Description *string    `json:"description,omitempty" binding:"omitempty,max=500"`
	Scopes      []string   `json:"scopes" binding:"dive,permission"`
	RateLimit   int32      `json:"rate_limit" binding:"min=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedBy   *int64     `json:"created_by,string,omitempty"`
}

// UpdateAPIKeyRequest leaves omitted fields unchanged. An empty scopes array
// clears the scopes.
type UpdateAPIKeyRequest struct {
	Name        *string  `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	Description *string  `json:"description,omitempty" binding:"omitempty,max=500"`
	Scopes      []string `json:"scopes" binding:"omitempty,dive,permission"`
	RateLimit   *int32   `json:"rate_limit,omitempty" binding:"omitempty,min=0"`
	IsActive    *bool    `json:"is_active,omitempty"`
}

type RotateAPIKeyRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type VerifyAPIKeyRequest struct {
	Key        string `json:"key" binding:"required"`
	Permission string `json:"permission,omitempty" binding:"omitempty,permission"`
}

type VerifyAPIKeyResponse struct {
	Valid  bool            `json:"valid"`
	Reason string          `json:"reason,omitempty"`
	Key    *APIKeyResponse `json:"key,omitempty"`
}

type APIKeyResponse struct {
	ID             int64      `json:"id,string"`
	OrganizationID int64      `json:"organization_id,string"`
	Name           string     `json:"name"`
	Description    *string    `json:"description,omitempty"`
	Prefix         string     `json:"prefix"`
	Scopes         []string   `json:"scopes"`
	RateLimit      int32      `json:"rate_limit"`
	IsActive       bool       `json:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IssuedAPIKeyResponse is the only response that carries the secret.
type IssuedAPIKeyResponse struct {
	Key    *APIKeyResponse `json:"key"`
	Secret string          `json:"secret"`
}

func ToAPIKeyResponse(k *model.APIKey) *APIKeyResponse {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return &APIKeyResponse{
		ID:             k.ID,
		OrganizationID: k.OrganizationID,
		Name:           k.Name,
		Description:    k.Description,
		Prefix:         k.Prefix,
		Scopes:         scopes,
		RateLimit:      k.RateLimit,
		IsActive:       k.IsActive,
		ExpiresAt:      k.ExpiresAt,
		LastUsedAt:     k.LastUsedAt,
		CreatedAt:      k.CreatedAt,
		UpdatedAt:      k.UpdatedAt,
	}
}

func ToAPIKeyResponses(keys []model.APIKey) []*APIKeyResponse {
	out := make([]*APIKeyResponse, len(keys))
	for i := range keys {
		out[i] = ToAPIKeyResponse(&keys[i])
	}
	return out
}

func ToIssuedAPIKeyResponse(key *model.APIKey, secret string) *IssuedAPIKeyResponse {
	return &IssuedAPIKeyResponse{Key: ToAPIKeyResponse(key), Secret: secret}
}
