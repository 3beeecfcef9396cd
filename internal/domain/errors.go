package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation marks caller input that can never succeed as given.
var ErrValidation = errors.New("validation failed")

// Validationf builds an error that matches ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ConflictError reports a uniqueness violation in terms of domain entities.
// Callers should re-fetch and decide.
type ConflictError struct {
	Entity     string
	Constraint string
	Message    string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s conflicts with an existing record (%s)", e.Entity, e.Constraint)
}

// ImmutableRoleError is returned for any attempt to delete a system role or
// change its permissions.
type ImmutableRoleError struct {
	RoleID int64
}

func (e *ImmutableRoleError) Error() string {
	return fmt.Sprintf("role %d is a system role and cannot be modified", e.RoleID)
}

// SyncFailedError means the local record was written but the provider step
// failed. Retrying with LocalID re-runs only the provider step.
type SyncFailedError struct {
	LocalID    int64
	ProviderID string
	Op         string
	Err        error
}

func (e *SyncFailedError) Error() string {
	return fmt.Sprintf("provider %s failed for user %d: %v", e.Op, e.LocalID, e.Err)
}

func (e *SyncFailedError) Unwrap() error {
	return e.Err
}

// LinkConflictError means a provider credential matched a local user by email
// while that user is already linked to a different credential. Only an
// operator can resolve it.
type LinkConflictError struct {
	LocalID            int64
	ExistingProviderID string
	IncomingProviderID string
	ProviderEventID    int64
}

func (e *LinkConflictError) Error() string {
	return fmt.Sprintf("user %d is linked to %s, refusing to relink to %s",
		e.LocalID, e.ExistingProviderID, e.IncomingProviderID)
}

// DeliveryExhaustedError is recorded when a webhook delivery spends its retry
// budget. It never reaches the code path that emitted the event.
type DeliveryExhaustedError struct {
	SubscriptionID int64
	EventID        int64
	Attempts       int
}

func (e *DeliveryExhaustedError) Error() string {
	return fmt.Sprintf("delivery of event %d to subscription %d exhausted after %d attempts",
		e.EventID, e.SubscriptionID, e.Attempts)
}

// APIKeyRejection says why an API key was refused.
type APIKeyRejection string

const (
	APIKeyInvalid           APIKeyRejection = "invalid"
	APIKeyInactive          APIKeyRejection = "inactive"
	APIKeyExpired           APIKeyRejection = "expired"
	APIKeyInsufficientScope APIKeyRejection = "insufficient_scope"
	APIKeyRateLimited       APIKeyRejection = "rate_limited"
)

// APIKeyRejectedError is returned when a presented API key cannot be used
// for the request. KeyID is zero when the key was not recognised.
type APIKeyRejectedError struct {
	KeyID  int64
	Reason APIKeyRejection
}

func (e *APIKeyRejectedError) Error() string {
	if e.KeyID == 0 {
		return fmt.Sprintf("api key rejected: %s", e.Reason)
	}
	return fmt.Sprintf("api key %d rejected: %s", e.KeyID, e.Reason)
}

// IsConflict reports whether err is a ConflictError or LinkConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	var lce *LinkConflictError
	return errors.As(err, &ce) || errors.As(err, &lce)
}
