package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCredentialNotFound is returned when the provider has no credential for the lookup.
	ErrCredentialNotFound = errors.New("provider credential not found")

	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnsupportedEvent = errors.New("unsupported provider event")
)

// Attrs are the profile fields pushed to a provider credential. Nil fields
// are left unchanged.
type Attrs struct {
	FirstName     *string
	LastName      *string
	EmailVerified *bool
}

// Claims is what a verified provider token says about its bearer.
type Claims struct {
	ProviderID     string
	SessionID      string
	OrganizationID string
	ExpiresAt      time.Time
}

// User is a provider-side credential as reported by a sign-in or a
// credential notification.
type User struct {
	ProviderID    string
	Email         string
	ProviderName  string
	FirstName     *string
	LastName      *string
	EmailVerified bool
}

// NotificationKind is the provider-neutral name of an inbound credential event.
type NotificationKind string

const (
	CredentialCreated NotificationKind = "credential.created"
	CredentialUpdated NotificationKind = "credential.updated"
)

// Notification is a verified, decoded provider webhook.
type Notification struct {
	ID      string
	Kind    NotificationKind
	User    User
	Payload []byte
}

// Adapter is the narrow surface of the identity provider the sync
// coordinator depends on.
type Adapter interface {
	CreateCredential(ctx context.Context, email, secret string, attrs Attrs) (string, error)
	// LookupCredential finds an existing credential by email. Returns
	// ErrCredentialNotFound when there is none.
	LookupCredential(ctx context.Context, email string) (string, error)
	UpdateCredential(ctx context.Context, providerID string, attrs Attrs) error
	DeleteCredential(ctx context.Context, providerID string) error
	VerifyToken(ctx context.Context, token string) (*Claims, error)
}

// Authenticator drives the hosted sign-in flow.
type Authenticator interface {
	AuthorizationURL(state string) (string, error)
	AuthenticateWithCode(ctx context.Context, code string) (*User, error)
}

// NotificationParser verifies and decodes inbound provider webhooks.
type NotificationParser interface {
	Parse(signatureHeader string, body []byte) (*Notification, error)
}
