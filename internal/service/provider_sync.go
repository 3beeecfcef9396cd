package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/store"
)

type upsertResult struct {
	user     *model.User
	conflict *domain.LinkConflictError
}

// UpsertFromProvider applies a provider-originated credential to the local
// store. It matches on provider link, then on email, and inserts only when
// neither matches. An email match already linked elsewhere is stored as a
// conflict and returned as a LinkConflictError; neither record changes.
func (s *identityService) UpsertFromProvider(ctx context.Context, n *provider.Notification) (*model.User, error) {
	providerID := n.User.ProviderID
	ctx = logger.WithLogFields(ctx, logger.LogFields{ProviderID: &providerID})

	if providerID == "" {
		return nil, domain.Validationf("provider notification without a credential id")
	}
	if model.NormalizeEmail(n.User.Email) == "" {
		return nil, domain.Validationf("provider notification without an email")
	}

	res, err := s.upsertOnce(ctx, n)
	if errors.Is(err, errLostRace) {
		// A concurrent upsert inserted the same email or link between our
		// match and our insert. The second pass matches the winner.
		slog.InfoContext(ctx, "provider upsert lost an insert race, re-matching")
		res, err = s.upsertOnce(ctx, n)
	}
	if err != nil {
		return nil, fmt.Errorf("applying provider credential: %w", err)
	}

	if res.conflict != nil {
		slog.WarnContext(ctx, "provider credential conflicts with existing link",
			"local_id", res.conflict.LocalID,
			"existing_provider_id", res.conflict.ExistingProviderID)
		return res.user, res.conflict
	}
	return res.user, nil
}

var errLostRace = errors.New("lost insert race")

func (s *identityService) upsertOnce(ctx context.Context, n *provider.Notification) (*upsertResult, error) {
	var (
		res   *upsertResult
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		res, err = applyProviderUser(ctx, stores, &batch, n)
		if err != nil && (store.IsUniqueViolation(err, "users_email_key") ||
			store.IsUniqueViolation(err, "users_provider_link_key") ||
			store.IsUniqueViolation(err, "provider_events_notification_key")) {
			return errLostRace
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return res, nil
}

func applyProviderUser(ctx context.Context, stores StoreProvider, batch *eventbus.Batch, n *provider.Notification) (*upsertResult, error) {
	pu := n.User
	email := model.NormalizeEmail(pu.Email)

	record := &model.ProviderEvent{
		ID:           id.New(),
		Kind:         string(n.Kind),
		ProviderID:   pu.ProviderID,
		Email:        email,
		ProviderName: pu.ProviderName,
		Payload:      rawPayload(n.Payload),
		Outcome:      model.ProviderEventApplied,
	}
	if n.ID != "" {
		prior, err := stores.ProviderEvents().GetByNotificationID(ctx, n.ID)
		switch {
		case err == nil:
			return replayProviderEvent(ctx, stores, prior)
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("checking notification %s: %w", n.ID, err)
		}
		notificationID := n.ID
		record.NotificationID = &notificationID
	}

	user, err := stores.Users().GetByProviderLink(ctx, pu.ProviderID)
	switch {
	case err == nil:
		applyProviderAttrs(user, pu, email)
		if err := stores.Users().Update(ctx, user); err != nil {
			return nil, err
		}
		if err := addUpsertedEvent(ctx, stores, batch, user, pu, "provider_link"); err != nil {
			return nil, err
		}

	case errors.Is(err, store.ErrNotFound):
		user, err = stores.Users().GetByEmail(ctx, email)
		switch {
		case err == nil && user.Linked():
			return recordConflict(ctx, stores, batch, record, user)

		case err == nil:
			if err := stores.Users().SetProviderLink(ctx, user.ID, &pu.ProviderID); err != nil {
				return nil, err
			}
			user.ProviderLink = &pu.ProviderID
			applyProviderAttrs(user, pu, email)
			if err := stores.Users().Update(ctx, user); err != nil {
				return nil, err
			}
			if err := batch.Add(ctx, stores.Events(), eventbus.Draft{
				Kind:       domain.EventUserLinked,
				SubjectIDs: []string{idString(user.ID), pu.ProviderID},
				Data: map[string]any{
					"local_id":    idString(user.ID),
					"provider_id": pu.ProviderID,
					"matched_by":  "email",
				},
			}); err != nil {
				return nil, err
			}

		case errors.Is(err, store.ErrNotFound):
			user = &model.User{
				ID:           id.New(),
				Email:        email,
				ProviderLink: &pu.ProviderID,
				Status:       model.UserStatusActive,
			}
			applyProviderAttrs(user, pu, email)
			if err := stores.Users().Create(ctx, user); err != nil {
				return nil, err
			}
			if err := addUpsertedEvent(ctx, stores, batch, user, pu, "created"); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("matching by email: %w", err)
		}

	default:
		return nil, fmt.Errorf("matching by provider link: %w", err)
	}

	record.LocalUserID = &user.ID
	if err := stores.ProviderEvents().Create(ctx, record); err != nil {
		return nil, fmt.Errorf("recording provider event: %w", err)
	}
	return &upsertResult{user: user}, nil
}

func recordConflict(ctx context.Context, stores StoreProvider, batch *eventbus.Batch, record *model.ProviderEvent, user *model.User) (*upsertResult, error) {
	record.Outcome = model.ProviderEventConflict
	record.LocalUserID = &user.ID
	record.ExistingProviderID = user.ProviderLink
	if err := stores.ProviderEvents().Create(ctx, record); err != nil {
		return nil, fmt.Errorf("recording provider conflict: %w", err)
	}
	if err := batch.Add(ctx, stores.Events(), eventbus.Draft{
		Kind:       domain.EventUserLinkConflict,
		SubjectIDs: []string{idString(user.ID), record.ProviderID},
		Data: map[string]any{
			"local_id":             idString(user.ID),
			"provider_id":          record.ProviderID,
			"existing_provider_id": *user.ProviderLink,
			"provider_event_id":    idString(record.ID),
		},
	}); err != nil {
		return nil, err
	}
	return &upsertResult{
		user: user,
		conflict: &domain.LinkConflictError{
			LocalID:            user.ID,
			ExistingProviderID: *user.ProviderLink,
			IncomingProviderID: record.ProviderID,
			ProviderEventID:    record.ID,
		},
	}, nil
}

// replayProviderEvent answers a redelivered notification from its stored
// record. Nothing is written and no event is emitted.
func replayProviderEvent(ctx context.Context, stores StoreProvider, prior *model.ProviderEvent) (*upsertResult, error) {
	slog.InfoContext(ctx, "provider notification already recorded",
		"provider_event_id", prior.ID,
		"outcome", prior.Outcome)

	res := &upsertResult{}
	if prior.LocalUserID != nil {
		user, err := stores.Users().GetByID(ctx, *prior.LocalUserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		res.user = user
	}
	if prior.Outcome == model.ProviderEventConflict && prior.LocalUserID != nil {
		conflict := &domain.LinkConflictError{
			LocalID:            *prior.LocalUserID,
			IncomingProviderID: prior.ProviderID,
			ProviderEventID:    prior.ID,
		}
		if prior.ExistingProviderID != nil {
			conflict.ExistingProviderID = *prior.ExistingProviderID
		}
		res.conflict = conflict
	}
	return res, nil
}

func addUpsertedEvent(ctx context.Context, stores StoreProvider, batch *eventbus.Batch, user *model.User, pu provider.User, matchedBy string) error {
	return batch.Add(ctx, stores.Events(), eventbus.Draft{
		Kind:       domain.EventUserUpsertedFromProvider,
		SubjectIDs: []string{idString(user.ID), pu.ProviderID},
		Data: map[string]any{
			"local_id":      idString(user.ID),
			"provider_id":   pu.ProviderID,
			"provider_name": pu.ProviderName,
			"matched_by":    matchedBy,
		},
	})
}

// applyProviderAttrs copies provider profile fields onto the local record.
// Email is taken from the provider only for newly created users; an existing
// user's email stays under local control.
func applyProviderAttrs(user *model.User, pu provider.User, email string) {
	if user.Email == "" {
		user.Email = email
	}
	if pu.FirstName != nil {
		user.FirstName = pu.FirstName
	}
	if pu.LastName != nil {
		user.LastName = pu.LastName
	}
	if pu.EmailVerified {
		user.EmailVerified = true
	}
	if pu.ProviderName != "" {
		user.AuthProvider = pu.ProviderName
	} else if user.AuthProvider == "" {
		user.AuthProvider = "provider"
	}
}

// ResolveLinkConflict closes an open conflict. Dismiss leaves both records
// as they are; relink points the local user at the incoming credential.
func (s *identityService) ResolveLinkConflict(ctx context.Context, providerEventID int64, action ConflictAction, resolvedBy string) (*model.ProviderEvent, error) {
	switch action {
	case ConflictDismiss:
		return s.conflicts.Resolve(ctx, providerEventID, model.ProviderEventDismissed, resolvedBy)
	case ConflictRelink:
	default:
		return nil, domain.Validationf("unknown conflict action %q", action)
	}

	var (
		resolved *model.ProviderEvent
		batch    eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		pe, err := stores.ProviderEvents().GetByID(ctx, providerEventID)
		if err != nil {
			return err
		}
		if pe.Outcome != model.ProviderEventConflict || pe.LocalUserID == nil {
			return domain.ErrNotFound
		}
		if err := stores.Users().SetProviderLink(ctx, *pe.LocalUserID, &pe.ProviderID); err != nil {
			return err
		}
		resolved, err = stores.ProviderEvents().Resolve(ctx, pe.ID, model.ProviderEventRelinked, resolvedBy)
		if err != nil {
			return err
		}

		data := map[string]any{
			"local_id":    idString(*pe.LocalUserID),
			"provider_id": pe.ProviderID,
			"matched_by":  "operator",
			"resolved_by": resolvedBy,
		}
		if pe.ExistingProviderID != nil {
			data["previous_provider_id"] = *pe.ExistingProviderID
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:       domain.EventUserLinked,
			SubjectIDs: []string{idString(*pe.LocalUserID), pe.ProviderID},
			Data:       data,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("relinking user: %w", err)
	}
	s.publisher.Publish(ctx, batch.Events()...)

	slog.InfoContext(ctx, "link conflict resolved by relink",
		"provider_event_id", providerEventID,
		"resolved_by", resolvedBy)
	return resolved, nil
}

func rawPayload(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(b)
}
