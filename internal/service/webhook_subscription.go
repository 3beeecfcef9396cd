package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/store"
	"basegraph.app/gatekeeper/internal/webhook"
)

const maxDeliveryHistory = 100

type CreateSubscriptionInput struct {
	OrganizationID *int64
	URL            string
	Description    *string
	EventKinds     []string
}

type SubscriptionUpdate struct {
	URL         *string
	Description *string
	EventKinds  []string
}

// WebhookSubscriptionService manages subscriber endpoints. The signing
// secret is returned by Create and RotateSecret only.
type WebhookSubscriptionService interface {
	Create(ctx context.Context, in CreateSubscriptionInput) (*model.WebhookSubscription, string, error)
	Get(ctx context.Context, id int64) (*model.WebhookSubscription, error)
	List(ctx context.Context, orgID *int64) ([]model.WebhookSubscription, error)
	Update(ctx context.Context, id int64, upd SubscriptionUpdate) (*model.WebhookSubscription, error)
	Delete(ctx context.Context, id int64) error
	RotateSecret(ctx context.Context, id int64) (string, error)
	Reactivate(ctx context.Context, id int64) (*model.WebhookSubscription, error)
	ListDeliveries(ctx context.Context, id int64, limit int32) ([]model.WebhookDelivery, error)
	ListAttempts(ctx context.Context, deliveryID int64) ([]model.WebhookAttempt, error)
}

type webhookSubscriptionService struct {
	subs       store.WebhookSubscriptionStore
	deliveries store.DeliveryStore
}

func NewWebhookSubscriptionService(subs store.WebhookSubscriptionStore, deliveries store.DeliveryStore) WebhookSubscriptionService {
	return &webhookSubscriptionService{subs: subs, deliveries: deliveries}
}

func (s *webhookSubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (*model.WebhookSubscription, string, error) {
	if err := validateEndpoint(in.URL); err != nil {
		return nil, "", err
	}
	kinds, err := validateKinds(in.EventKinds)
	if err != nil {
		return nil, "", err
	}
	secret, err := webhook.GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	sub := &model.WebhookSubscription{
		ID:             id.New(),
		OrganizationID: in.OrganizationID,
		URL:            in.URL,
		Secret:         secret,
		Description:    in.Description,
		EventKinds:     kinds,
		IsActive:       true,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, "", fmt.Errorf("creating subscription: %w", err)
	}

	slog.InfoContext(ctx, "webhook subscription created",
		"subscription_id", sub.ID,
		"event_kinds", sub.EventKinds)
	return sub, secret, nil
}

func (s *webhookSubscriptionService) Get(ctx context.Context, id int64) (*model.WebhookSubscription, error) {
	return s.subs.GetByID(ctx, id)
}

func (s *webhookSubscriptionService) List(ctx context.Context, orgID *int64) ([]model.WebhookSubscription, error) {
	return s.subs.ListByOrganization(ctx, orgID)
}

func (s *webhookSubscriptionService) Update(ctx context.Context, id int64, upd SubscriptionUpdate) (*model.WebhookSubscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.URL != nil {
		if err := validateEndpoint(*upd.URL); err != nil {
			return nil, err
		}
		sub.URL = *upd.URL
	}
	if upd.Description != nil {
		sub.Description = upd.Description
	}
	if upd.EventKinds != nil {
		kinds, err := validateKinds(upd.EventKinds)
		if err != nil {
			return nil, err
		}
		sub.EventKinds = kinds
	}
	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *webhookSubscriptionService) Delete(ctx context.Context, id int64) error {
	return s.subs.Delete(ctx, id)
}

func (s *webhookSubscriptionService) RotateSecret(ctx context.Context, id int64) (string, error) {
	secret, err := webhook.GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := s.subs.RotateSecret(ctx, id, secret); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "webhook secret rotated", "subscription_id", id)
	return secret, nil
}

// Reactivate turns a deactivated subscription back on with a zero failure
// count. Jobs cancelled at deactivation stay cancelled.
func (s *webhookSubscriptionService) Reactivate(ctx context.Context, id int64) (*model.WebhookSubscription, error) {
	return s.subs.Reactivate(ctx, id)
}

func (s *webhookSubscriptionService) ListDeliveries(ctx context.Context, id int64, limit int32) ([]model.WebhookDelivery, error) {
	if limit <= 0 || limit > maxDeliveryHistory {
		limit = maxDeliveryHistory
	}
	if _, err := s.subs.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.deliveries.ListBySubscription(ctx, id, limit)
}

func (s *webhookSubscriptionService) ListAttempts(ctx context.Context, deliveryID int64) ([]model.WebhookAttempt, error) {
	if _, err := s.deliveries.GetByID(ctx, deliveryID); err != nil {
		return nil, err
	}
	return s.deliveries.ListAttempts(ctx, deliveryID)
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.Validationf("webhook url must be an absolute http(s) url")
	}
	return nil
}

func validateKinds(kinds []string) ([]string, error) {
	if len(kinds) == 0 {
		return nil, domain.Validationf("at least one event kind is required")
	}
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !domain.ValidSubscriptionKind(k) {
			return nil, domain.Validationf("unknown event kind %q", k)
		}
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out, nil
}
