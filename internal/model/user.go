package model

import (
	"strings"
	"time"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

// AuthProviderLocal tags users created through the local API rather than a
// provider sign-in.
const AuthProviderLocal = "local"

type User struct {
	ID            int64          `json:"id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	FirstName     *string        `json:"first_name,omitempty"`
	LastName      *string        `json:"last_name,omitempty"`
	ProviderLink  *string        `json:"provider_link,omitempty"`
	AuthProvider  string         `json:"auth_provider"`
	Status        UserStatus     `json:"status"`
	Metadata      map[string]any `json:"metadata"`
	LastLoginAt   *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Linked reports whether the user has a provider credential.
func (u *User) Linked() bool {
	return u.ProviderLink != nil && *u.ProviderLink != ""
}

// NormalizeEmail is the single email canonicalization used on every write and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
