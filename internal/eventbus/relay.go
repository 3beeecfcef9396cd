package eventbus

import (
	"context"
	"log/slog"
	"time"

	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/internal/model"
)

// OutboxReader lists events whose outbox marker has not been cleared.
type OutboxReader interface {
	ListOutbox(ctx context.Context, olderThan time.Time, limit int32) ([]model.Event, error)
}

type RelayConfig struct {
	// Grace leaves fresh outbox rows to the publisher that created them.
	Grace     time.Duration
	Interval  time.Duration
	BatchSize int32
}

// OutboxRelay republishes committed events whose immediate publish did not
// happen (process crash, Redis outage). Together with the publisher this gives
// at-least-once delivery of every committed event to the stream.
type OutboxRelay struct {
	outbox    OutboxReader
	publisher Publisher
	cfg       RelayConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewOutboxRelay(outbox OutboxReader, publisher Publisher, cfg RelayConfig) *OutboxRelay {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (r *OutboxRelay) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "gatekeeper.eventbus.outbox_relay",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "outbox relay started", "interval", r.cfg.Interval, "grace", r.cfg.Grace)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "outbox relay stopping")
			return
		case <-ticker.C:
			r.RelayOnce(ctx)
		}
	}
}

func (r *OutboxRelay) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// RelayOnce publishes one batch of stale outbox events and returns how many it found.
func (r *OutboxRelay) RelayOnce(ctx context.Context) int {
	events, err := r.outbox.ListOutbox(ctx, time.Now().Add(-r.cfg.Grace), r.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "listing outbox failed", "error", err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	slog.InfoContext(ctx, "relaying outbox events", "count", len(events))
	r.publisher.Publish(ctx, events...)
	return len(events)
}
