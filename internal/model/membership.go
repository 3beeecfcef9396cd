package model

import "time"

type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusSuspended MembershipStatus = "suspended"
	MembershipStatusPending   MembershipStatus = "pending"
)

func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipStatusActive, MembershipStatusSuspended, MembershipStatusPending:
		return true
	}
	return false
}

type Membership struct {
	ID             int64            `json:"id"`
	UserID         int64            `json:"user_id"`
	OrganizationID int64            `json:"organization_id"`
	RoleID         *int64           `json:"role_id"`
	Status         MembershipStatus `json:"status"`
	JoinedAt       time.Time        `json:"joined_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// AccessSnapshot is the single-read view the permission resolver works from.
// Role fields are nil when the membership has no role.
type AccessSnapshot struct {
	MembershipStatus MembershipStatus
	RoleID           *int64
	RoleName         *string
	Permissions      []string
}
