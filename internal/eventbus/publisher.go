package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/common/metrics"
	"basegraph.app/gatekeeper/internal/model"
)

// Publisher pushes committed events to consumers. Publishing is best effort:
// anything that fails stays in the outbox for the relay.
type Publisher interface {
	Publish(ctx context.Context, events ...model.Event)
}

// OutboxClearer removes an event's outbox marker once it reached the stream.
type OutboxClearer interface {
	ClearOutbox(ctx context.Context, eventID int64) error
}

type redisPublisher struct {
	client *redis.Client
	stream string
	outbox OutboxClearer
}

func NewRedisPublisher(client *redis.Client, stream string, outbox OutboxClearer) Publisher {
	return &redisPublisher{
		client: client,
		stream: stream,
		outbox: outbox,
	}
}

func (p *redisPublisher) Publish(ctx context.Context, events ...model.Event) {
	for _, e := range events {
		if err := p.publish(ctx, e); err != nil {
			slog.WarnContext(ctx, "event publish deferred to outbox relay",
				"error", err,
				"event_id", e.ID,
				"event_kind", e.Kind)
		}
	}
}

func (p *redisPublisher) publish(ctx context.Context, e model.Event) error {
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: eventValues(e),
	}).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	metrics.EventPublished(string(e.Kind))

	if err := p.outbox.ClearOutbox(ctx, e.ID); err != nil {
		// Relay will publish it again; consumers are idempotent on event id.
		return fmt.Errorf("clearing outbox: %w", err)
	}

	kind := string(e.Kind)
	slog.DebugContext(logger.WithLogFields(ctx, logger.LogFields{EventID: &e.ID, EventKind: &kind}),
		"event published", "stream", p.stream)
	return nil
}

// NopPublisher drops events. The outbox relay still delivers them.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...model.Event) {}
