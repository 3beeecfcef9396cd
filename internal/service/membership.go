package service

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/store"
)

type MembershipService interface {
	// Add creates or updates the (user, organization) membership. A nil
	// roleID means the organization's default role.
	Add(ctx context.Context, userID, orgID int64, roleID *int64) (*model.Membership, error)
	// Update changes role or status of an existing membership. Only an
	// active membership grants permissions.
	Update(ctx context.Context, userID, orgID int64, in MembershipUpdate) (*model.Membership, error)
	Remove(ctx context.Context, userID, orgID int64) error
	Get(ctx context.Context, userID, orgID int64) (*model.Membership, error)
	ListByOrganization(ctx context.Context, orgID int64) ([]model.Membership, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Membership, error)
}

type MembershipUpdate struct {
	RoleID *int64
	Status *model.MembershipStatus
}

type membershipService struct {
	tx          TxRunner
	memberships store.MembershipStore
	publisher   eventbus.Publisher
}

func NewMembershipService(tx TxRunner, memberships store.MembershipStore, publisher eventbus.Publisher) MembershipService {
	return &membershipService{tx: tx, memberships: memberships, publisher: publisher}
}

func (s *membershipService) Add(ctx context.Context, userID, orgID int64, roleID *int64) (*model.Membership, error) {
	var (
		m     *model.Membership
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if _, err := stores.Users().GetByID(ctx, userID); err != nil {
			return fmt.Errorf("user %d: %w", userID, err)
		}
		if _, err := stores.Organizations().GetByID(ctx, orgID); err != nil {
			return fmt.Errorf("organization %d: %w", orgID, err)
		}
		var err error
		m, err = upsertMembership(ctx, stores, &batch, userID, orgID, roleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return m, nil
}

func (s *membershipService) Update(ctx context.Context, userID, orgID int64, in MembershipUpdate) (*model.Membership, error) {
	if in.Status != nil && !in.Status.Valid() {
		return nil, domain.Validationf("unknown membership status %q", *in.Status)
	}

	var (
		m     *model.Membership
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		m, err = stores.Memberships().Get(ctx, userID, orgID)
		if err != nil {
			return err
		}
		previousStatus := m.Status

		var changed []string
		if in.RoleID != nil && (m.RoleID == nil || *m.RoleID != *in.RoleID) {
			role, err := resolveRole(ctx, stores, orgID, in.RoleID)
			if err != nil {
				return err
			}
			m.RoleID = &role.ID
			changed = append(changed, "role_id")
		}
		if in.Status != nil && *in.Status != m.Status {
			m.Status = *in.Status
			changed = append(changed, "status")
		}
		if len(changed) == 0 {
			return nil
		}

		if err := stores.Memberships().Update(ctx, m); err != nil {
			return fmt.Errorf("updating membership: %w", err)
		}
		subjects := []string{idString(userID), idString(orgID)}
		data := map[string]any{
			"user_id":         idString(userID),
			"org_id":          idString(orgID),
			"status":          m.Status,
			"previous_status": previousStatus,
			"changed":         changed,
		}
		if m.RoleID != nil {
			subjects = append(subjects, idString(*m.RoleID))
			data["role_id"] = idString(*m.RoleID)
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventMembershipUpdated,
			OrganizationID: &orgID,
			SubjectIDs:     subjects,
			Data:           data,
		})
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return m, nil
}

func (s *membershipService) Remove(ctx context.Context, userID, orgID int64) error {
	var batch eventbus.Batch
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if err := stores.Memberships().Delete(ctx, userID, orgID); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventMembershipRemoved,
			OrganizationID: &orgID,
			SubjectIDs:     []string{idString(userID), idString(orgID)},
			Data: map[string]any{
				"user_id": idString(userID),
				"org_id":  idString(orgID),
			},
		})
	})
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return nil
}

func (s *membershipService) Get(ctx context.Context, userID, orgID int64) (*model.Membership, error) {
	return s.memberships.Get(ctx, userID, orgID)
}

func (s *membershipService) ListByOrganization(ctx context.Context, orgID int64) ([]model.Membership, error) {
	return s.memberships.ListByOrganization(ctx, orgID)
}

func (s *membershipService) ListByUser(ctx context.Context, userID int64) ([]model.Membership, error) {
	return s.memberships.ListByUser(ctx, userID)
}

// upsertMembership is shared by direct adds, organization creation and
// invitation acceptance, so each of them emits the same events. A second
// grant for the same pair updates the existing row.
func upsertMembership(ctx context.Context, stores StoreProvider, batch *eventbus.Batch, userID, orgID int64, roleID *int64) (*model.Membership, error) {
	role, err := resolveRole(ctx, stores, orgID, roleID)
	if err != nil {
		return nil, err
	}

	m := &model.Membership{
		ID:             id.New(),
		UserID:         userID,
		OrganizationID: orgID,
		RoleID:         &role.ID,
		Status:         model.MembershipStatusActive,
	}
	created, err := stores.Memberships().Upsert(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("upserting membership: %w", err)
	}

	kind := domain.EventMembershipUpdated
	if created {
		kind = domain.EventMembershipCreated
	}
	if err := batch.Add(ctx, stores.Events(), eventbus.Draft{
		Kind:           kind,
		OrganizationID: &orgID,
		SubjectIDs:     []string{idString(userID), idString(orgID), idString(role.ID)},
		Data: map[string]any{
			"user_id":   idString(userID),
			"org_id":    idString(orgID),
			"role_id":   idString(role.ID),
			"role_name": role.Name,
		},
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func resolveRole(ctx context.Context, stores StoreProvider, orgID int64, roleID *int64) (*model.Role, error) {
	if roleID == nil {
		role, err := stores.Roles().GetDefault(ctx, orgID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Validationf("organization %d has no default role; pass a role", orgID)
		}
		return role, err
	}

	role, err := stores.Roles().GetByID(ctx, *roleID)
	if err != nil {
		return nil, fmt.Errorf("role %d: %w", *roleID, err)
	}
	if role.OrganizationID != orgID {
		return nil, domain.Validationf("role %d does not belong to organization %d", role.ID, orgID)
	}
	return role, nil
}
