package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"basegraph.app/gatekeeper/internal/domain"
)

const pgErrUniqueViolation = "23505"

type constraintInfo struct {
	entity  string
	message string
}

// Messages are phrased for API callers, never raw storage text.
var constraints = map[string]constraintInfo{
	"users_email_key":                   {"user", "a user with this email already exists"},
	"users_provider_link_key":           {"user", "this provider credential is already linked to another user"},
	"organizations_slug_key":            {"organization", "organization slug already exists"},
	"roles_org_name_key":                {"role", "role name already exists in this organization"},
	"roles_one_default_per_org":         {"role", "organization already has a default role"},
	"memberships_user_org_key":          {"membership", "user is already a member of this organization"},
	"invitations_token_key":             {"invitation", "invitation token collision"},
	"invitations_one_pending_per_email": {"invitation", "a pending invitation already exists for this email"},
	"api_keys_org_name_key":             {"api_key", "an API key with this name already exists in this organization"},
	"api_keys_key_hash_key":             {"api_key", "API key collision"},
	"provider_events_notification_key":  {"provider_event", "notification already recorded"},

	"webhook_attempts_delivery_attempt_key": {"webhook_attempt", "attempt already recorded"},
}

// translate maps storage errors into the domain taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		info, ok := constraints[pgErr.ConstraintName]
		if !ok {
			info = constraintInfo{entity: pgErr.TableName, message: "record conflicts with an existing one"}
		}
		return &domain.ConflictError{
			Entity:     info.entity,
			Constraint: pgErr.ConstraintName,
			Message:    info.message,
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a ConflictError for the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var ce *domain.ConflictError
	return errors.As(err, &ce) && ce.Constraint == constraint
}

type rowScanner interface {
	Scan(dest ...any) error
}
