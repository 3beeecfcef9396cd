package rbac

import (
	"context"
	"errors"
	"log/slog"

	"basegraph.app/gatekeeper/common/metrics"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
)

// SnapshotReader returns the membership+role view for (user, organization)
// from a single consistent read.
type SnapshotReader interface {
	AccessSnapshot(ctx context.Context, userID, orgID int64) (*model.AccessSnapshot, error)
}

// Resolver answers permission checks. Checks are predicates: missing users,
// organizations, memberships, and roles all resolve to false.
type Resolver struct {
	snapshots SnapshotReader
}

func NewResolver(snapshots SnapshotReader) *Resolver {
	return &Resolver{snapshots: snapshots}
}

// Resolve reports whether user holds permission in org.
func (r *Resolver) Resolve(ctx context.Context, userID, orgID int64, permission string) bool {
	granted := Grants(r.permissions(ctx, userID, orgID), permission)
	metrics.PermissionCheck(granted)
	return granted
}

// CheckAny is true when at least one of permissions is granted. It reads the
// snapshot once and stops at the first grant.
func (r *Resolver) CheckAny(ctx context.Context, userID, orgID int64, permissions []string) bool {
	set := r.permissions(ctx, userID, orgID)
	for _, p := range permissions {
		if Grants(set, p) {
			metrics.PermissionCheck(true)
			return true
		}
	}
	metrics.PermissionCheck(false)
	return false
}

// CheckAll is true when every permission is granted. An empty list is false.
func (r *Resolver) CheckAll(ctx context.Context, userID, orgID int64, permissions []string) bool {
	if len(permissions) == 0 {
		metrics.PermissionCheck(false)
		return false
	}
	set := r.permissions(ctx, userID, orgID)
	for _, p := range permissions {
		if !Grants(set, p) {
			metrics.PermissionCheck(false)
			return false
		}
	}
	metrics.PermissionCheck(true)
	return true
}

// HasRole reports whether the user's active membership in org carries roleName.
func (r *Resolver) HasRole(ctx context.Context, userID, orgID int64, roleName string) bool {
	snap := r.snapshot(ctx, userID, orgID)
	return snap != nil && snap.RoleName != nil && *snap.RoleName == roleName
}

// Permissions returns the raw permission patterns the user holds in org.
func (r *Resolver) Permissions(ctx context.Context, userID, orgID int64) []string {
	return r.permissions(ctx, userID, orgID)
}

func (r *Resolver) permissions(ctx context.Context, userID, orgID int64) []string {
	snap := r.snapshot(ctx, userID, orgID)
	if snap == nil || snap.RoleID == nil {
		return nil
	}
	return snap.Permissions
}

func (r *Resolver) snapshot(ctx context.Context, userID, orgID int64) *model.AccessSnapshot {
	snap, err := r.snapshots.AccessSnapshot(ctx, userID, orgID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "permission snapshot read failed",
				"error", err, "user_id", userID, "organization_id", orgID)
		}
		return nil
	}
	if snap.MembershipStatus != model.MembershipStatusActive {
		return nil
	}
	return snap
}
