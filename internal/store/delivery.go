package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/model"
)

const deliveryColumns = `id, delivery_uuid, subscription_id, event_id, status, attempts, next_attempt_at,
	last_error, created_at, updated_at`

const attemptColumns = `id, delivery_id, subscription_id, event_id, attempt_number, request_url, request_headers,
	request_body, response_status, response_body, error_message, elapsed_ms, success, created_at`

type deliveryStore struct {
	db db.DBTX
}

func newDeliveryStore(conn db.DBTX) DeliveryStore {
	return &deliveryStore{db: conn}
}

func (s *deliveryStore) Enqueue(ctx context.Context, d *model.WebhookDelivery) (bool, error) {
	rows, err := s.db.Query(ctx, `
		INSERT INTO webhook_deliveries (id, delivery_uuid, subscription_id, event_id, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT ON CONSTRAINT webhook_deliveries_sub_event_key DO NOTHING
		RETURNING `+deliveryColumns,
		d.ID, d.DeliveryUUID.String(), d.SubscriptionID, d.EventID, d.NextAttemptAt,
	)
	if err != nil {
		return false, translate(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	created, err := scanDelivery(rows)
	if err != nil {
		return false, err
	}
	*d = *created
	return true, nil
}

func (s *deliveryStore) GetByID(ctx context.Context, id int64) (*model.WebhookDelivery, error) {
	return scanDelivery(s.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
}

// ClaimDue leases the head job of each subscription. A job is the head when no
// other pending job of the same subscription carries an older event, and no
// older event the subscription would receive is still waiting for fan-out
// (its job may not exist yet). This keeps delivery order per subscription.
// SKIP LOCKED lets concurrent workers claim disjoint sets.
func (s *deliveryStore) ClaimDue(ctx context.Context, limit int32, leaseUntil time.Time) ([]model.WebhookDelivery, error) {
	return s.list(ctx, `
		UPDATE webhook_deliveries
		SET next_attempt_at = $2, updated_at = now()
		WHERE id IN (
			SELECT d.id
			FROM webhook_deliveries d
			JOIN webhook_subscriptions s ON s.id = d.subscription_id AND s.is_active
			WHERE d.status = 'pending'
			  AND d.next_attempt_at <= now()
			  AND NOT EXISTS (
				SELECT 1 FROM webhook_deliveries p
				WHERE p.subscription_id = d.subscription_id
				  AND p.status = 'pending'
				  AND p.event_id < d.event_id
			  )
			  AND NOT EXISTS (
				SELECT 1 FROM events e
				WHERE e.fanned_out_at IS NULL
				  AND e.id < d.event_id
				  AND (s.organization_id IS NULL OR e.organization_id = s.organization_id)
				  AND s.event_kinds && ARRAY[e.kind, '*']
			  )
			ORDER BY d.next_attempt_at
			LIMIT $1
			FOR UPDATE OF d SKIP LOCKED
		)
		RETURNING `+deliveryColumns, limit, leaseUntil)
}

func (s *deliveryStore) RecordAttempt(ctx context.Context, a *model.WebhookAttempt) error {
	headers, err := json.Marshal(a.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	return translate(s.db.QueryRow(ctx, `
		INSERT INTO webhook_attempts (id, delivery_id, subscription_id, event_id, attempt_number, request_url,
			request_headers, request_body, response_status, response_body, error_message, elapsed_ms, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`,
		a.ID, a.DeliveryID, a.SubscriptionID, a.EventID, a.AttemptNumber, a.RequestURL,
		headers, a.RequestBody, a.ResponseStatus, a.ResponseBody, a.ErrorMessage, a.ElapsedMS, a.Success,
	).Scan(&a.CreatedAt))
}

func (s *deliveryStore) MarkDelivered(ctx context.Context, id int64, attempts int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'delivered', attempts = $2, last_error = NULL, updated_at = now()
		WHERE id = $1`, id, attempts)
	return err
}

func (s *deliveryStore) MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_deliveries SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
		WHERE id = $1`, id, attempts, nextAttemptAt, lastError)
	return err
}

func (s *deliveryStore) MarkExhausted(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'exhausted', attempts = $2, last_error = $3, updated_at = now()
		WHERE id = $1`, id, attempts, lastError)
	return err
}

func (s *deliveryStore) CancelPending(ctx context.Context, subscriptionID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'cancelled', updated_at = now()
		WHERE subscription_id = $1 AND status = 'pending'`, subscriptionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *deliveryStore) ListBySubscription(ctx context.Context, subscriptionID int64, limit int32) ([]model.WebhookDelivery, error) {
	return s.list(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE subscription_id = $1
		ORDER BY event_id DESC
		LIMIT $2`, subscriptionID, limit)
}

func (s *deliveryStore) ListAttempts(ctx context.Context, deliveryID int64) ([]model.WebhookAttempt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+attemptColumns+` FROM webhook_attempts WHERE delivery_id = $1 ORDER BY attempt_number`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookAttempt
	for rows.Next() {
		var (
			a       model.WebhookAttempt
			headers []byte
		)
		err := rows.Scan(&a.ID, &a.DeliveryID, &a.SubscriptionID, &a.EventID, &a.AttemptNumber, &a.RequestURL,
			&headers, &a.RequestBody, &a.ResponseStatus, &a.ResponseBody, &a.ErrorMessage, &a.ElapsedMS,
			&a.Success, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headers, &a.RequestHeaders); err != nil {
			return nil, fmt.Errorf("decode request headers: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteFinishedBefore prunes terminal jobs (and, by cascade, their attempts).
func (s *deliveryStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM webhook_deliveries
		WHERE status IN ('delivered', 'exhausted', 'cancelled') AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *deliveryStore) list(ctx context.Context, query string, args ...any) ([]model.WebhookDelivery, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDelivery(row rowScanner) (*model.WebhookDelivery, error) {
	var (
		d       model.WebhookDelivery
		rawUUID string
	)
	err := row.Scan(&d.ID, &rawUUID, &d.SubscriptionID, &d.EventID, &d.Status, &d.Attempts, &d.NextAttemptAt,
		&d.LastError, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	parsed, err := uuid.Parse(rawUUID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery uuid: %w", err)
	}
	d.DeliveryUUID = parsed
	return &d, nil
}
