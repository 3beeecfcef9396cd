package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/store"
)

type CreateUserInput struct {
	Email     string
	Secret    string
	FirstName *string
	LastName  *string
	Metadata  map[string]any
}

// UserUpdate carries the profile fields to change. Nil fields are kept.
type UserUpdate struct {
	FirstName     *string
	LastName      *string
	EmailVerified *bool
	Metadata      map[string]any
	Status        *model.UserStatus
}

type ConflictAction string

const (
	ConflictDismiss ConflictAction = "dismiss"
	ConflictRelink  ConflictAction = "relink"
)

// IdentityService keeps local users and provider credentials correlated.
// It is the only writer of User.ProviderLink.
type IdentityService interface {
	CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error)
	// RetryLink re-runs the provider step for a user whose CreateUser
	// returned a SyncFailedError. It is a no-op for linked users.
	RetryLink(ctx context.Context, localID int64, secret string) (*model.User, error)
	UpdateUser(ctx context.Context, localID int64, upd UserUpdate) (*model.User, error)
	DeleteUser(ctx context.Context, localID int64, hard bool) error
	GetUser(ctx context.Context, localID int64) (*model.User, error)
	ListUsers(ctx context.Context, limit, offset int32) ([]model.User, error)

	UpsertFromProvider(ctx context.Context, n *provider.Notification) (*model.User, error)
	ListLinkConflicts(ctx context.Context, limit int32) ([]model.ProviderEvent, error)
	ResolveLinkConflict(ctx context.Context, providerEventID int64, action ConflictAction, resolvedBy string) (*model.ProviderEvent, error)
}

type identityService struct {
	tx        TxRunner
	users     store.UserStore
	conflicts store.ProviderEventStore
	adapter   provider.Adapter
	publisher eventbus.Publisher
}

func NewIdentityService(
	tx TxRunner,
	users store.UserStore,
	conflicts store.ProviderEventStore,
	adapter provider.Adapter,
	publisher eventbus.Publisher,
) IdentityService {
	return &identityService{
		tx:        tx,
		users:     users,
		conflicts: conflicts,
		adapter:   adapter,
		publisher: publisher,
	}
}

func (s *identityService) CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error) {
	email := model.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, domain.Validationf("invalid email %q", in.Email)
	}

	user := &model.User{
		ID:           id.New(),
		Email:        email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		AuthProvider: model.AuthProviderLocal,
		Status:       model.UserStatusActive,
		Metadata:     in.Metadata,
	}

	var batch eventbus.Batch
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if err := stores.Users().Create(ctx, user); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:       domain.EventUserCreated,
			SubjectIDs: []string{idString(user.ID)},
			Data: map[string]any{
				"local_id": idString(user.ID),
				"email":    user.Email,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating local user: %w", err)
	}
	s.publisher.Publish(ctx, batch.Events()...)

	ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: &user.ID})
	slog.InfoContext(ctx, "local user created, linking provider credential")

	return s.link(ctx, user, in.Secret)
}

func (s *identityService) RetryLink(ctx context.Context, localID int64, secret string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if user.Status == model.UserStatusDeleted {
		return nil, domain.ErrNotFound
	}
	if user.Linked() {
		return user, nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: &user.ID})
	return s.link(ctx, user, secret)
}

// link performs the provider half of the create saga. It looks the
// credential up by email first, so a crash between provider create and link
// persist does not leave a second credential behind on retry.
func (s *identityService) link(ctx context.Context, user *model.User, secret string) (*model.User, error) {
	providerID, err := s.adapter.LookupCredential(ctx, user.Email)
	if errors.Is(err, provider.ErrCredentialNotFound) {
		providerID, err = s.adapter.CreateCredential(ctx, user.Email, secret, provider.Attrs{
			FirstName:     user.FirstName,
			LastName:      user.LastName,
			EmailVerified: &user.EmailVerified,
		})
	}
	if err != nil {
		slog.WarnContext(ctx, "provider credential step failed", "error", err)
		return user, &domain.SyncFailedError{LocalID: user.ID, Op: "create", Err: err}
	}

	var batch eventbus.Batch
	err = s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if err := stores.Users().SetProviderLink(ctx, user.ID, &providerID); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:       domain.EventUserLinked,
			SubjectIDs: []string{idString(user.ID), providerID},
			Data: map[string]any{
				"local_id":    idString(user.ID),
				"provider_id": providerID,
			},
		})
	})
	if err != nil {
		return user, &domain.SyncFailedError{LocalID: user.ID, ProviderID: providerID, Op: "link", Err: err}
	}
	s.publisher.Publish(ctx, batch.Events()...)

	user.ProviderLink = &providerID
	slog.InfoContext(ctx, "user linked to provider credential", "provider_id", providerID)
	return user, nil
}

func (s *identityService) UpdateUser(ctx context.Context, localID int64, upd UserUpdate) (*model.User, error) {
	var (
		user  *model.User
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		user, err = stores.Users().GetByID(ctx, localID)
		if err != nil {
			return err
		}
		applyUserUpdate(user, upd)
		if err := stores.Users().Update(ctx, user); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:       domain.EventUserUpdated,
			SubjectIDs: []string{idString(user.ID)},
			Data: map[string]any{
				"local_id": idString(user.ID),
				"status":   user.Status,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	s.publisher.Publish(ctx, batch.Events()...)

	if !user.Linked() {
		return user, nil
	}
	attrs := provider.Attrs{
		FirstName:     upd.FirstName,
		LastName:      upd.LastName,
		EmailVerified: upd.EmailVerified,
	}
	if attrs == (provider.Attrs{}) {
		return user, nil
	}
	if err := s.adapter.UpdateCredential(ctx, *user.ProviderLink, attrs); err != nil {
		return user, &domain.SyncFailedError{LocalID: user.ID, ProviderID: *user.ProviderLink, Op: "update", Err: err}
	}
	return user, nil
}

// DeleteUser soft-deletes by status, leaving the provider credential alone.
// A hard delete removes the provider credential first and the local row
// only after that succeeded.
func (s *identityService) DeleteUser(ctx context.Context, localID int64, hard bool) error {
	user, err := s.users.GetByID(ctx, localID)
	if err != nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: &user.ID})

	if hard && user.Linked() {
		err := s.adapter.DeleteCredential(ctx, *user.ProviderLink)
		if err != nil && !errors.Is(err, provider.ErrCredentialNotFound) {
			return &domain.SyncFailedError{LocalID: user.ID, ProviderID: *user.ProviderLink, Op: "delete", Err: err}
		}
	}

	var batch eventbus.Batch
	err = s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if hard {
			if err := stores.Users().Delete(ctx, user.ID); err != nil {
				return err
			}
		} else if err := stores.Users().SetStatus(ctx, user.ID, model.UserStatusDeleted); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:       domain.EventUserDeleted,
			SubjectIDs: []string{idString(user.ID)},
			Data: map[string]any{
				"local_id": idString(user.ID),
				"hard":     hard,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	s.publisher.Publish(ctx, batch.Events()...)

	slog.InfoContext(ctx, "user deleted", "hard", hard)
	return nil
}

func (s *identityService) GetUser(ctx context.Context, localID int64) (*model.User, error) {
	return s.users.GetByID(ctx, localID)
}

func (s *identityService) ListUsers(ctx context.Context, limit, offset int32) ([]model.User, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *identityService) ListLinkConflicts(ctx context.Context, limit int32) ([]model.ProviderEvent, error) {
	return s.conflicts.ListConflicts(ctx, limit)
}

func applyUserUpdate(user *model.User, upd UserUpdate) {
	if upd.FirstName != nil {
		user.FirstName = upd.FirstName
	}
	if upd.LastName != nil {
		user.LastName = upd.LastName
	}
	if upd.EmailVerified != nil {
		user.EmailVerified = *upd.EmailVerified
	}
	if upd.Metadata != nil {
		user.Metadata = upd.Metadata
	}
	if upd.Status != nil {
		user.Status = *upd.Status
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
