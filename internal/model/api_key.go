package model

import "time"

// APIKey lets a service call the access endpoints on behalf of one
// organization. The secret itself is never stored, only its hash.
type APIKey struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	Name           string     `json:"name"`
	Description    *string    `json:"description,omitempty"`
	Prefix         string     `json:"prefix"`
	KeyHash        string     `json:"-"`
	Scopes         []string   `json:"scopes"`
	// RateLimit is requests per minute. Zero means unlimited.
	RateLimit      int32      `json:"rate_limit"`
	IsActive       bool       `json:"is_active"`
	CreatedBy      *int64     `json:"created_by,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
