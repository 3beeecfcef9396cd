package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
)

// EventReader loads events and tracks which have been fanned out.
type EventReader interface {
	GetByID(ctx context.Context, id int64) (*model.Event, error)
	// MarkFannedOut records that every delivery job for the event exists.
	MarkFannedOut(ctx context.Context, id int64) error
	// ListPendingFanout returns events not yet fanned out, emitted before
	// olderThan, in id order.
	ListPendingFanout(ctx context.Context, olderThan time.Time, limit int32) ([]model.Event, error)
}

type SubscriptionMatcher interface {
	ListMatching(ctx context.Context, orgID *int64, kind domain.EventKind) ([]model.WebhookSubscription, error)
}

type DeliveryEnqueuer interface {
	Enqueue(ctx context.Context, d *model.WebhookDelivery) (bool, error)
}

// Fanout turns each event on the stream into one delivery job per matching
// active subscription. Jobs are unique per (subscription, event), so a
// redelivered stream message creates nothing new. Once an event's jobs exist
// it is marked fanned out; the dispatcher holds back a job while an older
// matching event is still unmarked, and Sweep fans out whatever the stream
// has not, oldest first.
type Fanout struct {
	events        EventReader
	subscriptions SubscriptionMatcher
	deliveries    DeliveryEnqueuer
}

func NewFanout(events EventReader, subscriptions SubscriptionMatcher, deliveries DeliveryEnqueuer) *Fanout {
	return &Fanout{
		events:        events,
		subscriptions: subscriptions,
		deliveries:    deliveries,
	}
}

// Process is an eventbus.MessageProcessor.
func (f *Fanout) Process(ctx context.Context, msg eventbus.Message) error {
	event, err := f.events.GetByID(ctx, msg.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "event referenced by stream not found, skipping")
			return nil
		}
		return fmt.Errorf("loading event: %w", err)
	}
	return f.fanOut(ctx, event)
}

func (f *Fanout) fanOut(ctx context.Context, event *model.Event) error {
	subs, err := f.subscriptions.ListMatching(ctx, event.OrganizationID, event.Kind)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	created := 0
	now := time.Now()
	for _, sub := range subs {
		job := &model.WebhookDelivery{
			ID:             id.New(),
			DeliveryUUID:   uuid.New(),
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			Status:         model.DeliveryStatusPending,
			NextAttemptAt:  now,
		}
		ok, err := f.deliveries.Enqueue(ctx, job)
		if err != nil {
			return fmt.Errorf("enqueueing delivery for subscription %d: %w", sub.ID, err)
		}
		if ok {
			created++
		}
	}

	if err := f.events.MarkFannedOut(ctx, event.ID); err != nil {
		return fmt.Errorf("marking event fanned out: %w", err)
	}

	if len(subs) > 0 {
		slog.InfoContext(ctx, "webhook deliveries enqueued",
			"event_id", event.ID,
			"matching_subscriptions", len(subs),
			"created", created)
	}
	return nil
}

type SweepConfig struct {
	// Grace leaves fresh events to the stream consumer.
	Grace     time.Duration
	Interval  time.Duration
	BatchSize int32
}

// SweepOnce fans out events the stream path has not, in id order. It stops
// at the first failure so a later event never gets ahead of an earlier one.
func (f *Fanout) SweepOnce(ctx context.Context, grace time.Duration, limit int32) (int, error) {
	events, err := f.events.ListPendingFanout(ctx, time.Now().Add(-grace), limit)
	if err != nil {
		return 0, fmt.Errorf("listing events pending fan-out: %w", err)
	}
	for i := range events {
		if err := f.fanOut(ctx, &events[i]); err != nil {
			return i, fmt.Errorf("event %d: %w", events[i].ID, err)
		}
	}
	return len(events), nil
}

// Sweep runs SweepOnce every Interval until ctx is done.
func (f *Fanout) Sweep(ctx context.Context, cfg SweepConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "gatekeeper.webhook.fanout_sweep"})

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := f.SweepOnce(ctx, cfg.Grace, cfg.BatchSize)
			if err != nil {
				slog.WarnContext(ctx, "fan-out sweep stopped early", "error", err, "fanned_out", n)
			} else if n > 0 {
				slog.InfoContext(ctx, "fan-out sweep caught up events", "count", n)
			}
		}
	}
}
