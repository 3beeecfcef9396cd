package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/common/metrics"
	"basegraph.app/gatekeeper/common/otel"
	"basegraph.app/gatekeeper/core/config"
	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/audit"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/service"
	"basegraph.app/gatekeeper/internal/store"
	"basegraph.app/gatekeeper/internal/webhook"
)

const (
	webhookGroup = "webhooks"
	auditGroup   = "audit"

	maintenanceInterval = time.Hour
	deliveryRetention   = 30 * 24 * time.Hour
)

type sink struct {
	group     string
	processor eventbus.MessageProcessor
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)
	metrics.Init()

	slog.InfoContext(ctx, "gatekeeper worker starting",
		"env", cfg.Env,
		"stream", cfg.Events.Stream,
		"consumer_name", cfg.Events.Consumer)

	// Different node id than the server
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Events.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Events.Stream)

	stores := store.NewStores(database.Conn())
	publisher := eventbus.NewRedisPublisher(redisClient, cfg.Events.Stream, stores.Events())
	txRunner := service.NewWebhookTxRunner(service.NewTxRunner(database))

	fanout := webhook.NewFanout(stores.Events(), stores.WebhookSubscriptions(), stores.Deliveries())
	sinks := []sink{
		{group: webhookGroup, processor: fanout.Process},
		{group: auditGroup, processor: audit.NewSink(stores.Events(), stores.Audit()).Process},
	}

	var (
		workers    []*eventbus.Worker
		reclaimers []*eventbus.Reclaimer
	)
	for _, s := range sinks {
		consumer, err := eventbus.NewRedisConsumer(ctx, redisClient, eventbus.ConsumerConfig{
			Stream:    cfg.Events.Stream,
			Group:     s.group,
			Consumer:  cfg.Events.Consumer,
			DLQStream: cfg.Events.DLQStream,
			BatchSize: 10,
			Block:     5 * time.Second,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create consumer", "error", err, "group", s.group)
			os.Exit(1)
		}

		w := eventbus.NewWorker(consumer, s.processor, eventbus.WorkerConfig{Name: s.group, MaxAttempts: 5})
		workers = append(workers, w)
		reclaimers = append(reclaimers, eventbus.NewReclaimer(redisClient, consumer, w, eventbus.ReclaimerConfig{
			MinIdle:   5 * time.Minute,
			Interval:  time.Minute,
			BatchSize: 10,
		}))
	}

	relay := eventbus.NewOutboxRelay(stores.Events(), publisher, eventbus.RelayConfig{
		Grace:     cfg.Events.OutboxGrace,
		Interval:  10 * time.Second,
		BatchSize: 100,
	})
	dispatcher := webhook.NewDispatcher(stores, txRunner, publisher, webhook.ConfigFrom(cfg.Webhook))

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	for _, r := range reclaimers {
		g.Go(func() error {
			r.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		relay.Run(gctx)
		return nil
	})
	g.Go(func() error {
		fanout.Sweep(gctx, webhook.SweepConfig{
			Grace:     cfg.Events.OutboxGrace,
			Interval:  10 * time.Second,
			BatchSize: 100,
		})
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		runMaintenance(gctx, dispatcher, stores.Invitations(), stores.APIKeys())
		return nil
	})

	slog.InfoContext(ctx, "worker initialized and running", "sinks", len(sinks))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-gctx.Done():
		slog.ErrorContext(ctx, "worker component exited", "error", context.Cause(gctx))
	}

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimers and the relay first (quick), then anything mid-delivery.
	for _, r := range reclaimers {
		r.Stop()
	}
	relay.Stop()
	for _, w := range workers {
		w.Stop()
	}
	dispatcher.Stop()
	stopRun()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

type invitationExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type apiKeyExpirer interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

func runMaintenance(ctx context.Context, dispatcher *webhook.Dispatcher, invitations invitationExpirer, keys apiKeyExpirer) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "gatekeeper.worker.maintenance"})
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		if n, err := dispatcher.CleanupHistory(ctx, deliveryRetention); err != nil {
			slog.WarnContext(ctx, "delivery history cleanup failed", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "delivery history cleaned", "removed", n)
		}

		if n, err := invitations.ExpireStale(ctx, time.Now()); err != nil {
			slog.WarnContext(ctx, "invitation expiry failed", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "invitations expired", "count", n)
		}

		if n, err := keys.DeactivateExpired(ctx, time.Now()); err != nil {
			slog.WarnContext(ctx, "api key expiry failed", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "expired api keys deactivated", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

const banner = `
  ____       _       _
 / ___| __ _| |_ ___| | _____  ___ _ __   ___ _ __
| |  _ / _' | __/ _ \ |/ / _ \/ _ \ '_ \ / _ \ '__|
| |_| | (_| | ||  __/   <  __/  __/ |_) |  __/ |
 \____|\__,_|\__\___|_|\_\___|\___| .__/ \___|_|
                                  |_|      worker
`
