package store

import (
	"context"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
)

const subscriptionColumns = `id, organization_id, url, secret, description, event_kinds, is_active,
	failure_count, last_success_at, last_failure_at, created_at, updated_at`

type webhookSubscriptionStore struct {
	db db.DBTX
}

func newWebhookSubscriptionStore(conn db.DBTX) WebhookSubscriptionStore {
	return &webhookSubscriptionStore{db: conn}
}

func (s *webhookSubscriptionStore) Create(ctx context.Context, sub *model.WebhookSubscription) error {
	created, err := scanSubscription(s.db.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions (id, organization_id, url, secret, description, event_kinds, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+subscriptionColumns,
		sub.ID, sub.OrganizationID, sub.URL, sub.Secret, sub.Description, nonNilStrings(sub.EventKinds), sub.IsActive,
	))
	if err != nil {
		return err
	}
	*sub = *created
	return nil
}

func (s *webhookSubscriptionStore) GetByID(ctx context.Context, id int64) (*model.WebhookSubscription, error) {
	return scanSubscription(s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id))
}

func (s *webhookSubscriptionStore) Update(ctx context.Context, sub *model.WebhookSubscription) error {
	updated, err := scanSubscription(s.db.QueryRow(ctx, `
		UPDATE webhook_subscriptions SET url = $2, description = $3, event_kinds = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		sub.ID, sub.URL, sub.Description, nonNilStrings(sub.EventKinds),
	))
	if err != nil {
		return err
	}
	*sub = *updated
	return nil
}

func (s *webhookSubscriptionStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOrganization with a nil orgID lists global subscriptions.
func (s *webhookSubscriptionStore) ListByOrganization(ctx context.Context, orgID *int64) ([]model.WebhookSubscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE organization_id IS NOT DISTINCT FROM $1
		ORDER BY id`, orgID)
}

func (s *webhookSubscriptionStore) ListMatching(ctx context.Context, orgID *int64, kind domain.EventKind) ([]model.WebhookSubscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE is_active
		  AND (organization_id IS NULL OR organization_id = $1)
		  AND event_kinds && ARRAY[$2::text, '*']
		ORDER BY id`, orgID, string(kind))
}

func (s *webhookSubscriptionStore) RotateSecret(ctx context.Context, id int64, secret string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE webhook_subscriptions SET secret = $2, updated_at = now() WHERE id = $1`, id, secret)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *webhookSubscriptionStore) Reactivate(ctx context.Context, id int64) (*model.WebhookSubscription, error) {
	return scanSubscription(s.db.QueryRow(ctx, `
		UPDATE webhook_subscriptions SET is_active = TRUE, failure_count = 0, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns, id))
}

func (s *webhookSubscriptionStore) RecordSuccess(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_subscriptions SET failure_count = 0, last_success_at = now(), updated_at = now()
		WHERE id = $1`, id)
	return err
}

func (s *webhookSubscriptionStore) RecordFailure(ctx context.Context, id int64, threshold int) (int, bool, error) {
	var (
		count       int
		deactivated bool
	)
	err := s.db.QueryRow(ctx, `
		WITH prev AS (
			SELECT is_active FROM webhook_subscriptions WHERE id = $1 FOR UPDATE
		)
		UPDATE webhook_subscriptions s
		SET failure_count = s.failure_count + 1,
		    last_failure_at = now(),
		    is_active = s.is_active AND s.failure_count + 1 < $2,
		    updated_at = now()
		FROM prev
		WHERE s.id = $1
		RETURNING s.failure_count, prev.is_active AND NOT s.is_active`,
		id, threshold,
	).Scan(&count, &deactivated)
	if err != nil {
		return 0, false, translate(err)
	}
	return count, deactivated, nil
}

func (s *webhookSubscriptionStore) list(ctx context.Context, query string, args ...any) ([]model.WebhookSubscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func scanSubscription(row rowScanner) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.URL, &sub.Secret, &sub.Description, &sub.EventKinds,
		&sub.IsActive, &sub.FailureCount, &sub.LastSuccessAt, &sub.LastFailureAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}
