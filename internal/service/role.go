package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/rbac"
	"basegraph.app/gatekeeper/internal/store"
)

type CreateRoleInput struct {
	OrganizationID int64
	Name           string
	Description    *string
	Permissions    []string
	IsDefault      bool
}

type RoleService interface {
	Create(ctx context.Context, in CreateRoleInput) (*model.Role, error)
	Get(ctx context.Context, id int64) (*model.Role, error)
	List(ctx context.Context, orgID int64) ([]model.Role, error)
	Rename(ctx context.Context, id int64, name string, description *string) (*model.Role, error)
	SetPermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error)
	AddPermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error)
	RemovePermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error)
	SetDefault(ctx context.Context, id int64) (*model.Role, error)
	// Delete removes a custom role. Memberships holding it keep existing with
	// no role and resolve no permissions.
	Delete(ctx context.Context, id int64) error
}

type roleService struct {
	tx        TxRunner
	roles     store.RoleStore
	publisher eventbus.Publisher
}

func NewRoleService(tx TxRunner, roles store.RoleStore, publisher eventbus.Publisher) RoleService {
	return &roleService{tx: tx, roles: roles, publisher: publisher}
}

func (s *roleService) Create(ctx context.Context, in CreateRoleInput) (*model.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Validationf("role name is required")
	}
	perms, err := normalizePermissions(in.Permissions)
	if err != nil {
		return nil, err
	}

	role := &model.Role{
		ID:             id.New(),
		OrganizationID: in.OrganizationID,
		Name:           name,
		Description:    in.Description,
		Permissions:    perms,
	}

	var batch eventbus.Batch
	err = s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if _, err := stores.Organizations().GetByID(ctx, in.OrganizationID); err != nil {
			return fmt.Errorf("organization %d: %w", in.OrganizationID, err)
		}
		if err := stores.Roles().Create(ctx, role); err != nil {
			return err
		}
		if in.IsDefault {
			if err := makeDefault(ctx, stores, role); err != nil {
				return err
			}
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventRoleCreated,
			OrganizationID: &role.OrganizationID,
			SubjectIDs:     []string{idString(role.ID)},
			Data: map[string]any{
				"role_id":     idString(role.ID),
				"org_id":      idString(role.OrganizationID),
				"name":        role.Name,
				"permissions": role.Permissions,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return role, nil
}

func (s *roleService) Get(ctx context.Context, id int64) (*model.Role, error) {
	return s.roles.GetByID(ctx, id)
}

func (s *roleService) List(ctx context.Context, orgID int64) ([]model.Role, error) {
	return s.roles.ListByOrganization(ctx, orgID)
}

func (s *roleService) Rename(ctx context.Context, id int64, name string, description *string) (*model.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validationf("role name is required")
	}

	var (
		role  *model.Role
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		role, err = stores.Roles().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return &domain.ImmutableRoleError{RoleID: role.ID}
		}
		previous := role.Name
		role.Name = name
		if description != nil {
			role.Description = description
		}
		if err := stores.Roles().Update(ctx, role); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), roleUpdatedDraft(role, map[string]any{
			"previous_name": previous,
		}))
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return role, nil
}

func (s *roleService) SetPermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error) {
	return s.mutatePermissions(ctx, id, func([]string) []string { return permissions })
}

func (s *roleService) AddPermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error) {
	return s.mutatePermissions(ctx, id, func(current []string) []string {
		return append(slices.Clone(current), permissions...)
	})
}

func (s *roleService) RemovePermissions(ctx context.Context, id int64, permissions []string) (*model.Role, error) {
	return s.mutatePermissions(ctx, id, func(current []string) []string {
		return slices.DeleteFunc(slices.Clone(current), func(p string) bool {
			return slices.Contains(permissions, p)
		})
	})
}

// mutatePermissions reads the role and writes its new permission set in one
// transaction. System roles are rejected before anything is written.
func (s *roleService) mutatePermissions(ctx context.Context, id int64, next func(current []string) []string) (*model.Role, error) {
	var (
		updated *model.Role
		batch   eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		role, err := stores.Roles().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return &domain.ImmutableRoleError{RoleID: role.ID}
		}

		perms, err := normalizePermissions(next(role.Permissions))
		if err != nil {
			return err
		}
		if slices.Equal(perms, role.Permissions) {
			updated = role
			return nil
		}

		updated, err = stores.Roles().SetPermissions(ctx, role.ID, perms)
		if err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventRolePermissionsChanged,
			OrganizationID: &role.OrganizationID,
			SubjectIDs:     []string{idString(role.ID)},
			Data: map[string]any{
				"role_id":     idString(role.ID),
				"org_id":      idString(role.OrganizationID),
				"permissions": updated.Permissions,
				"previous":    role.Permissions,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return updated, nil
}

func (s *roleService) SetDefault(ctx context.Context, id int64) (*model.Role, error) {
	var (
		role  *model.Role
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		role, err = stores.Roles().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if role.IsDefault {
			return nil
		}
		extra := map[string]any{}
		if prev, err := stores.Roles().GetDefault(ctx, role.OrganizationID); err == nil {
			extra["previous_default_role_id"] = idString(prev.ID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reading current default role: %w", err)
		}
		if err := makeDefault(ctx, stores, role); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), roleUpdatedDraft(role, extra))
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return role, nil
}

func (s *roleService) Delete(ctx context.Context, id int64) error {
	var batch eventbus.Batch
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		role, err := stores.Roles().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return &domain.ImmutableRoleError{RoleID: role.ID}
		}
		if err := stores.Roles().Delete(ctx, role.ID); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventRoleDeleted,
			OrganizationID: &role.OrganizationID,
			SubjectIDs:     []string{idString(role.ID)},
			Data: map[string]any{
				"role_id": idString(role.ID),
				"org_id":  idString(role.OrganizationID),
				"name":    role.Name,
			},
		})
	})
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, batch.Events()...)

	slog.InfoContext(ctx, "role deleted", "role_id", id)
	return nil
}

func roleUpdatedDraft(role *model.Role, extra map[string]any) eventbus.Draft {
	data := map[string]any{
		"role_id":    idString(role.ID),
		"org_id":     idString(role.OrganizationID),
		"name":       role.Name,
		"is_default": role.IsDefault,
	}
	for k, v := range extra {
		data[k] = v
	}
	return eventbus.Draft{
		Kind:           domain.EventRoleUpdated,
		OrganizationID: &role.OrganizationID,
		SubjectIDs:     []string{idString(role.ID)},
		Data:           data,
	}
}

// makeDefault clears the organization's previous default and sets role,
// inside the caller's transaction.
func makeDefault(ctx context.Context, stores StoreProvider, role *model.Role) error {
	if err := stores.Roles().ClearDefault(ctx, role.OrganizationID); err != nil {
		return fmt.Errorf("clearing default role: %w", err)
	}
	if err := stores.Roles().SetDefault(ctx, role.ID); err != nil {
		return fmt.Errorf("setting default role: %w", err)
	}
	role.IsDefault = true
	return nil
}

// normalizePermissions validates each entry and drops duplicates, keeping
// first-seen order.
func normalizePermissions(perms []string) ([]string, error) {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if !rbac.Valid(p) {
			return nil, domain.Validationf("invalid permission %q, want resource:action", p)
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}
