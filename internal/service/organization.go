package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/common/slug"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/store"
)

const maxSlugAttempts = 20

type OrganizationService interface {
	// Create makes the organization, seeds its system roles and, when
	// creatorID is set, makes the creator its Owner.
	Create(ctx context.Context, name string, slug *string, creatorID *int64) (*model.Organization, error)
	Get(ctx context.Context, id int64) (*model.Organization, error)
	GetBySlug(ctx context.Context, slug string) (*model.Organization, error)
	ListForUser(ctx context.Context, userID int64) ([]model.Organization, error)
	// List pages through organizations. A nil status skips deleted ones.
	List(ctx context.Context, status *model.OrganizationStatus, limit, offset int32) ([]model.Organization, error)
	Update(ctx context.Context, id int64, in OrganizationUpdate) (*model.Organization, error)
	// Delete marks the organization deleted. With hard set the row and
	// everything scoped to it is removed instead.
	Delete(ctx context.Context, id int64, hard bool) error
}

// OrganizationUpdate carries the fields to change. Nil fields are kept.
// Settings, when non-nil, replaces the stored settings.
type OrganizationUpdate struct {
	Name     *string
	Slug     *string
	Settings map[string]any
	Status   *model.OrganizationStatus
}

type organizationService struct {
	tx        TxRunner
	orgs      store.OrganizationStore
	publisher eventbus.Publisher
}

func NewOrganizationService(tx TxRunner, orgs store.OrganizationStore, publisher eventbus.Publisher) OrganizationService {
	return &organizationService{tx: tx, orgs: orgs, publisher: publisher}
}

func (s *organizationService) Create(ctx context.Context, name string, slugInput *string, creatorID *int64) (*model.Organization, error) {
	if name == "" {
		return nil, domain.Validationf("organization name is required")
	}

	var (
		org   *model.Organization
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()

		finalSlug, err := ensureSlug(ctx, stores.Organizations(), name, slugInput)
		if err != nil {
			return err
		}

		org = &model.Organization{
			ID:     id.New(),
			Name:   name,
			Slug:   finalSlug,
			Status: model.OrganizationStatusActive,
		}
		if err := stores.Organizations().Create(ctx, org); err != nil {
			return fmt.Errorf("creating organization: %w", err)
		}

		var owner *model.Role
		for _, sr := range model.SystemRoles {
			desc := sr.Description
			role := &model.Role{
				ID:             id.New(),
				OrganizationID: org.ID,
				Name:           sr.Name,
				Description:    &desc,
				Permissions:    sr.Permissions,
				IsDefault:      sr.IsDefault,
				IsSystem:       true,
			}
			if err := stores.Roles().Create(ctx, role); err != nil {
				return fmt.Errorf("seeding role %s: %w", sr.Name, err)
			}
			if sr.Name == model.RoleOwner {
				owner = role
			}
		}

		if err := batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventOrganizationCreated,
			OrganizationID: &org.ID,
			SubjectIDs:     []string{idString(org.ID)},
			Data: map[string]any{
				"org_id": idString(org.ID),
				"name":   org.Name,
				"slug":   org.Slug,
			},
		}); err != nil {
			return err
		}

		if creatorID == nil {
			return nil
		}
		_, err = upsertMembership(ctx, stores, &batch, *creatorID, org.ID, &owner.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)

	slog.InfoContext(ctx, "organization created", "organization_id", org.ID, "slug", org.Slug)
	return org, nil
}

func (s *organizationService) Get(ctx context.Context, id int64) (*model.Organization, error) {
	return s.orgs.GetByID(ctx, id)
}

func (s *organizationService) GetBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	return s.orgs.GetBySlug(ctx, slug)
}

func (s *organizationService) ListForUser(ctx context.Context, userID int64) ([]model.Organization, error) {
	return s.orgs.ListByUser(ctx, userID)
}

func (s *organizationService) List(ctx context.Context, status *model.OrganizationStatus, limit, offset int32) ([]model.Organization, error) {
	if status != nil && !status.Valid() {
		return nil, domain.Validationf("unknown organization status %q", *status)
	}
	return s.orgs.List(ctx, status, limit, offset)
}

func (s *organizationService) Update(ctx context.Context, id int64, in OrganizationUpdate) (*model.Organization, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, domain.Validationf("organization name cannot be empty")
	}
	if in.Status != nil {
		switch *in.Status {
		case model.OrganizationStatusActive, model.OrganizationStatusSuspended:
		default:
			return nil, domain.Validationf("status must be active or suspended, got %q", *in.Status)
		}
	}

	var (
		org   *model.Organization
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		org, err = stores.Organizations().GetByID(ctx, id)
		if err != nil {
			return err
		}
		previousStatus := org.Status

		var changed []string
		if in.Name != nil && strings.TrimSpace(*in.Name) != org.Name {
			org.Name = strings.TrimSpace(*in.Name)
			changed = append(changed, "name")
		}
		if in.Slug != nil {
			next, err := slug.Make(*in.Slug, "org")
			if err != nil {
				return domain.Validationf("invalid slug: %v", err)
			}
			if next != org.Slug {
				if err := slugAvailable(ctx, stores.Organizations(), next, org.ID); err != nil {
					return err
				}
				org.Slug = next
				changed = append(changed, "slug")
			}
		}
		if in.Settings != nil {
			org.Settings = in.Settings
			changed = append(changed, "settings")
		}
		if in.Status != nil && *in.Status != org.Status {
			org.Status = *in.Status
			changed = append(changed, "status")
		}
		if len(changed) == 0 {
			return nil
		}

		if err := stores.Organizations().Update(ctx, org); err != nil {
			return fmt.Errorf("updating organization: %w", err)
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventOrganizationUpdated,
			OrganizationID: &org.ID,
			SubjectIDs:     []string{idString(org.ID)},
			Data: map[string]any{
				"org_id":          idString(org.ID),
				"name":            org.Name,
				"slug":            org.Slug,
				"status":          org.Status,
				"previous_status": previousStatus,
				"changed":         changed,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return org, nil
}

func (s *organizationService) Delete(ctx context.Context, id int64, hard bool) error {
	var batch eventbus.Batch
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		org, err := stores.Organizations().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if hard {
			if err := stores.Organizations().Delete(ctx, org.ID); err != nil {
				return fmt.Errorf("deleting organization: %w", err)
			}
		} else {
			if org.Status == model.OrganizationStatusDeleted {
				return nil
			}
			org.Status = model.OrganizationStatusDeleted
			if err := stores.Organizations().Update(ctx, org); err != nil {
				return fmt.Errorf("marking organization deleted: %w", err)
			}
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventOrganizationDeleted,
			OrganizationID: &org.ID,
			SubjectIDs:     []string{idString(org.ID)},
			Data: map[string]any{
				"org_id": idString(org.ID),
				"name":   org.Name,
				"slug":   org.Slug,
				"hard":   hard,
			},
		})
	})
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, batch.Events()...)

	slog.InfoContext(ctx, "organization deleted", "organization_id", id, "hard", hard)
	return nil
}

// slugAvailable fails with the slug conflict unless candidate is free or
// already belongs to ownerID.
func slugAvailable(ctx context.Context, orgs store.OrganizationStore, candidate string, ownerID int64) error {
	existing, err := orgs.GetBySlug(ctx, candidate)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking slug availability: %w", err)
	}
	if existing.ID == ownerID {
		return nil
	}
	return &domain.ConflictError{
		Entity:     "organization",
		Constraint: "organizations_slug_key",
		Message:    "organization slug already exists",
	}
}

func ensureSlug(ctx context.Context, orgs store.OrganizationStore, name string, input *string) (string, error) {
	source := name
	if input != nil && *input != "" {
		source = *input
	}

	base, err := slug.Make(source, "org")
	if err != nil {
		return "", domain.Validationf("generating slug: %v", err)
	}

	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := slug.WithSuffix(base, n)
		_, err := orgs.GetBySlug(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking slug availability: %w", err)
		}
	}
	return "", &domain.ConflictError{
		Entity:     "organization",
		Constraint: "organizations_slug_key",
		Message:    fmt.Sprintf("unable to find an available slug for %q", base),
	}
}
