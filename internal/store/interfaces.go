package store

import (
	"context"
	"time"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = domain.ErrNotFound

// UserStore defines the contract for local user records.
// SetProviderLink is reserved for the identity sync coordinator.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByProviderLink(ctx context.Context, providerID string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	SetProviderLink(ctx context.Context, id int64, providerID *string) error
	SetStatus(ctx context.Context, id int64, status model.UserStatus) error
	TouchLogin(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, limit, offset int32) ([]model.User, error)
}

// OrganizationStore defines the contract for organization data access
type OrganizationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Organization, error)
	GetBySlug(ctx context.Context, slug string) (*model.Organization, error)
	Create(ctx context.Context, org *model.Organization) error
	Update(ctx context.Context, org *model.Organization) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, status *model.OrganizationStatus, limit, offset int32) ([]model.Organization, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Organization, error)
}

// RoleStore defines the contract for organization-scoped roles.
// System role checks live in the service layer; the store writes what it is told.
type RoleStore interface {
	GetByID(ctx context.Context, id int64) (*model.Role, error)
	GetByName(ctx context.Context, orgID int64, name string) (*model.Role, error)
	GetDefault(ctx context.Context, orgID int64) (*model.Role, error)
	ListByOrganization(ctx context.Context, orgID int64) ([]model.Role, error)
	Create(ctx context.Context, role *model.Role) error
	Update(ctx context.Context, role *model.Role) error
	SetPermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error)
	ClearDefault(ctx context.Context, orgID int64) error
	SetDefault(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// MembershipStore defines the contract for user-organization-role links.
type MembershipStore interface {
	Get(ctx context.Context, userID, orgID int64) (*model.Membership, error)
	// Upsert inserts or updates the (user, organization) membership and reports
	// whether a new row was created.
	Upsert(ctx context.Context, m *model.Membership) (created bool, err error)
	// Update writes role and status of an existing membership.
	Update(ctx context.Context, m *model.Membership) error
	Delete(ctx context.Context, userID, orgID int64) error
	ListByOrganization(ctx context.Context, orgID int64) ([]model.Membership, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Membership, error)
	// AccessSnapshot reads membership and role in one statement. Returns
	// ErrNotFound when the user, organization, or membership is missing or inactive.
	AccessSnapshot(ctx context.Context, userID, orgID int64) (*model.AccessSnapshot, error)
}

// InvitationStore defines the contract for invitation data access
type InvitationStore interface {
	Create(ctx context.Context, inv *model.Invitation) error
	GetByID(ctx context.Context, id int64) (*model.Invitation, error)
	GetByToken(ctx context.Context, token string) (*model.Invitation, error)
	ListByOrganization(ctx context.Context, orgID int64) ([]model.Invitation, error)
	// Accept flips a pending invitation to accepted. Returns ErrNotFound if it
	// is no longer pending.
	Accept(ctx context.Context, id, userID int64) (*model.Invitation, error)
	Revoke(ctx context.Context, id int64) (*model.Invitation, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// APIKeyStore holds organization-scoped API keys. Only the key hash is
// stored; lookups by secret go through GetByHash.
type APIKeyStore interface {
	Create(ctx context.Context, key *model.APIKey) error
	GetByID(ctx context.Context, id int64) (*model.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*model.APIKey, error)
	ListByOrganization(ctx context.Context, orgID int64, activeOnly bool, limit, offset int32) ([]model.APIKey, error)
	// Update writes name, description, scopes, rate limit and active flag.
	Update(ctx context.Context, key *model.APIKey) error
	// Rotate swaps the secret. A nil expiresAt keeps the current expiry.
	Rotate(ctx context.Context, id int64, prefix, hash string, expiresAt *time.Time) (*model.APIKey, error)
	Delete(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, id int64) error
	// DeactivateExpired turns off active keys whose expiry has passed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// EventStore is the durable event log plus its outbox.
type EventStore interface {
	Append(ctx context.Context, event *model.Event) error
	GetByID(ctx context.Context, id int64) (*model.Event, error)
	ListByOrganization(ctx context.Context, orgID int64, limit int32) ([]model.Event, error)
	ClearOutbox(ctx context.Context, eventID int64) error
	ListOutbox(ctx context.Context, olderThan time.Time, limit int32) ([]model.Event, error)
	MarkFannedOut(ctx context.Context, id int64) error
	ListPendingFanout(ctx context.Context, olderThan time.Time, limit int32) ([]model.Event, error)
}

// WebhookSubscriptionStore defines the contract for webhook subscriptions.
type WebhookSubscriptionStore interface {
	Create(ctx context.Context, sub *model.WebhookSubscription) error
	GetByID(ctx context.Context, id int64) (*model.WebhookSubscription, error)
	Update(ctx context.Context, sub *model.WebhookSubscription) error
	Delete(ctx context.Context, id int64) error
	ListByOrganization(ctx context.Context, orgID *int64) ([]model.WebhookSubscription, error)
	// ListMatching returns active subscriptions for the organization (plus
	// global ones) whose kinds include kind or the wildcard.
	ListMatching(ctx context.Context, orgID *int64, kind domain.EventKind) ([]model.WebhookSubscription, error)
	RotateSecret(ctx context.Context, id int64, secret string) error
	Reactivate(ctx context.Context, id int64) (*model.WebhookSubscription, error)
	RecordSuccess(ctx context.Context, id int64) error
	// RecordFailure bumps the failure count and deactivates the subscription at
	// threshold. deactivated is true only for the call that flipped it.
	RecordFailure(ctx context.Context, id int64, threshold int) (failureCount int, deactivated bool, err error)
}

// DeliveryStore holds webhook delivery jobs and their attempt history.
type DeliveryStore interface {
	// Enqueue creates the job unless one already exists for (subscription, event).
	Enqueue(ctx context.Context, d *model.WebhookDelivery) (bool, error)
	GetByID(ctx context.Context, id int64) (*model.WebhookDelivery, error)
	// ClaimDue leases up to limit due jobs, at most one per subscription (the
	// oldest pending one by event), pushing their next_attempt_at to leaseUntil.
	ClaimDue(ctx context.Context, limit int32, leaseUntil time.Time) ([]model.WebhookDelivery, error)
	RecordAttempt(ctx context.Context, a *model.WebhookAttempt) error
	MarkDelivered(ctx context.Context, id int64, attempts int) error
	MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkExhausted(ctx context.Context, id int64, attempts int, lastError string) error
	CancelPending(ctx context.Context, subscriptionID int64) (int64, error)
	ListBySubscription(ctx context.Context, subscriptionID int64, limit int32) ([]model.WebhookDelivery, error)
	ListAttempts(ctx context.Context, deliveryID int64) ([]model.WebhookAttempt, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ProviderEventStore is the inbox of provider-originated notifications.
type ProviderEventStore interface {
	Create(ctx context.Context, ev *model.ProviderEvent) error
	GetByID(ctx context.Context, id int64) (*model.ProviderEvent, error)
	// GetByNotificationID finds the record written for a provider notification,
	// so a redelivery can be recognised.
	GetByNotificationID(ctx context.Context, notificationID string) (*model.ProviderEvent, error)
	ListConflicts(ctx context.Context, limit int32) ([]model.ProviderEvent, error)
	// Resolve closes an open conflict. Returns ErrNotFound if it is not open.
	Resolve(ctx context.Context, id int64, outcome model.ProviderEventOutcome, resolvedBy string) (*model.ProviderEvent, error)
}

// AuditStore is the audit sink's table.
type AuditStore interface {
	Record(ctx context.Context, entry *model.AuditEntry) (bool, error)
	ListByOrganization(ctx context.Context, orgID int64, limit int32) ([]model.AuditEntry, error)
}
