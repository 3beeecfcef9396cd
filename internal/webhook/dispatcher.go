package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/common/metrics"
	"basegraph.app/gatekeeper/core/config"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/store"
)

const (
	maxResponseBody = 1000
	maxErrorMessage = 500
	userAgent       = "gatekeeper-webhooks/1.0"
)

// StoreProvider exposes the stores the dispatcher reads and writes.
type StoreProvider interface {
	Events() store.EventStore
	WebhookSubscriptions() store.WebhookSubscriptionStore
	Deliveries() store.DeliveryStore
}

// TxRunner runs fn with stores bound to one transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

// Config tunes the dispatcher. Lease is how long a claimed job stays
// invisible to other dispatchers.
type Config struct {
	MaxAttempts           int
	DeactivationThreshold int
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	// BackoffJitter is the randomization factor applied to each delay, in
	// [0, 1). Zero gives exact delays.
	BackoffJitter float64
	Timeout       time.Duration
	Workers       int
	RatePerSecond float64

	PollInterval time.Duration
	BatchSize    int32
	Lease        time.Duration
}

func ConfigFrom(c config.WebhookConfig) Config {
	return Config{
		MaxAttempts:           c.MaxAttempts,
		DeactivationThreshold: c.DeactivationThreshold,
		BackoffBase:           c.BackoffBase,
		BackoffMax:            c.BackoffMax,
		BackoffJitter:         c.BackoffJitter,
		Timeout:               c.Timeout,
		Workers:               c.Workers,
		RatePerSecond:         c.RatePerSecond,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DeactivationThreshold <= 0 {
		c.DeactivationThreshold = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Minute
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		c.BackoffJitter = 0.1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Lease <= 0 {
		c.Lease = c.Timeout + time.Minute
	}
	return c
}

// Backoff returns the delay before retry number attempt (1-based): an
// exponential backoff from BackoffBase doubling up to BackoffMax, randomized
// by BackoffJitter either side.
func (c Config) Backoff(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.BackoffBase,
		RandomizationFactor: c.BackoffJitter,
		Multiplier:          2,
		MaxInterval:         c.BackoffMax,
	}
	b.Reset()
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Dispatcher claims due delivery jobs and posts them to subscriber URLs.
// Jobs of one subscription go out one at a time in event order; distinct
// subscriptions are delivered concurrently up to Workers.
type Dispatcher struct {
	stores    StoreProvider
	tx        TxRunner
	publisher eventbus.Publisher
	client    *http.Client
	cfg       Config

	limitersMu sync.Mutex
	limiters   map[int64]*rate.Limiter

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewDispatcher(stores StoreProvider, tx TxRunner, publisher eventbus.Publisher, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		stores:    stores,
		tx:        tx,
		publisher: publisher,
		client:    &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		limiters:  make(map[int64]*rate.Limiter),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "gatekeeper.webhook.dispatcher"})
	slog.InfoContext(ctx, "webhook dispatcher started",
		"workers", d.cfg.Workers,
		"max_attempts", d.cfg.MaxAttempts)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			slog.InfoContext(ctx, "webhook dispatcher stopping")
			return nil
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "webhook dispatch failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.stoppedCh
}

// DispatchOnce claims one batch of due jobs and attempts each of them once.
// It returns the number of jobs attempted.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	jobs, err := d.stores.Deliveries().ClaimDue(ctx, d.cfg.BatchSize, time.Now().Add(d.cfg.Lease))
	if err != nil {
		return 0, fmt.Errorf("claiming due deliveries: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			d.deliver(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return len(jobs), nil
}

// CleanupHistory removes finished jobs (and their attempts) older than retention.
func (d *Dispatcher) CleanupHistory(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := d.stores.Deliveries().DeleteFinishedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("deleting finished deliveries: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "webhook delivery history cleaned up", "deleted", n)
	}
	return n, nil
}

func (d *Dispatcher) deliver(ctx context.Context, job model.WebhookDelivery) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SubscriptionID: &job.SubscriptionID,
		EventID:        &job.EventID,
	})

	sub, err := d.stores.WebhookSubscriptions().GetByID(ctx, job.SubscriptionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "loading subscription for delivery", "error", err)
		}
		return
	}
	if !sub.IsActive {
		return
	}

	event, err := d.stores.Events().GetByID(ctx, job.EventID)
	if err != nil {
		slog.ErrorContext(ctx, "loading event for delivery", "error", err)
		return
	}

	sc := logger.StartSpan(ctx, "webhook.deliver")
	defer sc.End()
	ctx = sc.Context()

	if err := d.limiter(sub.ID).Wait(ctx); err != nil {
		return
	}

	attempt, err := d.send(ctx, sub, event, job)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "building webhook request", "error", err)
		return
	}

	if attempt.Success {
		metrics.WebhookAttempt("delivered", time.Duration(attempt.ElapsedMS)*time.Millisecond)
		if err := d.recordSuccess(ctx, job, attempt); err != nil {
			sc.RecordError(err)
			slog.ErrorContext(ctx, "recording webhook success", "error", err)
		}
		return
	}

	outcome := "retry"
	if attempt.AttemptNumber >= d.cfg.MaxAttempts {
		outcome = "exhausted"
	}
	metrics.WebhookAttempt(outcome, time.Duration(attempt.ElapsedMS)*time.Millisecond)
	if err := d.recordFailure(ctx, sub, job, attempt); err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "recording webhook failure", "error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *model.WebhookSubscription, event *model.Event, job model.WebhookDelivery) (*model.WebhookAttempt, error) {
	body, err := buildBody(event)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	headers := map[string]string{
		"Content-Type":  "application/json",
		"User-Agent":    userAgent,
		HeaderEvent:     string(event.Kind),
		HeaderDelivery:  job.DeliveryUUID.String(),
		HeaderTimestamp: strconv.FormatInt(time.Now().Unix(), 10),
		HeaderSignature: Sign(sub.Secret, body),
	}

	attempt := &model.WebhookAttempt{
		ID:             id.New(),
		DeliveryID:     job.ID,
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		AttemptNumber:  job.Attempts + 1,
		RequestURL:     sub.URL,
		RequestHeaders: headers,
		RequestBody:    string(body),
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	attempt.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		msg := logger.Truncate(err.Error(), maxErrorMessage)
		attempt.ErrorMessage = &msg
		return attempt, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	respBody := string(raw)
	status := resp.StatusCode
	attempt.ResponseStatus = &status
	attempt.ResponseBody = &respBody
	attempt.Success = status >= 200 && status < 300
	if !attempt.Success {
		msg := fmt.Sprintf("receiver responded %d", status)
		attempt.ErrorMessage = &msg
	}
	return attempt, nil
}

func (d *Dispatcher) recordSuccess(ctx context.Context, job model.WebhookDelivery, attempt *model.WebhookAttempt) error {
	err := d.tx.WithTx(ctx, func(stores StoreProvider) error {
		if err := stores.Deliveries().RecordAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("recording attempt: %w", err)
		}
		if err := stores.Deliveries().MarkDelivered(ctx, job.ID, attempt.AttemptNumber); err != nil {
			return fmt.Errorf("marking delivered: %w", err)
		}
		return stores.WebhookSubscriptions().RecordSuccess(ctx, job.SubscriptionID)
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "webhook delivered", "attempt", attempt.AttemptNumber, "elapsed_ms", attempt.ElapsedMS)
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *model.WebhookSubscription, job model.WebhookDelivery, attempt *model.WebhookAttempt) error {
	var (
		batch       eventbus.Batch
		exhausted   bool
		deactivated bool
	)
	lastErr := ""
	if attempt.ErrorMessage != nil {
		lastErr = *attempt.ErrorMessage
	}

	err := d.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()

		if err := stores.Deliveries().RecordAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("recording attempt: %w", err)
		}

		var err error
		_, deactivated, err = stores.WebhookSubscriptions().RecordFailure(ctx, sub.ID, d.cfg.DeactivationThreshold)
		if err != nil {
			return fmt.Errorf("recording subscription failure: %w", err)
		}

		exhausted = attempt.AttemptNumber >= d.cfg.MaxAttempts
		if exhausted {
			if err := stores.Deliveries().MarkExhausted(ctx, job.ID, attempt.AttemptNumber, lastErr); err != nil {
				return fmt.Errorf("marking exhausted: %w", err)
			}
		} else {
			next := time.Now().Add(d.cfg.Backoff(attempt.AttemptNumber))
			if err := stores.Deliveries().MarkRetry(ctx, job.ID, attempt.AttemptNumber, next, lastErr); err != nil {
				return fmt.Errorf("scheduling retry: %w", err)
			}
		}

		if !deactivated {
			return nil
		}
		if _, err := stores.Deliveries().CancelPending(ctx, sub.ID); err != nil {
			return fmt.Errorf("cancelling pending deliveries: %w", err)
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventWebhookSubscriptionDeactivated,
			OrganizationID: sub.OrganizationID,
			SubjectIDs:     []string{strconv.FormatInt(sub.ID, 10)},
			Data: map[string]any{
				"subscription_id": strconv.FormatInt(sub.ID, 10),
				"url":             sub.URL,
				"last_error":      lastErr,
			},
		})
	})
	if err != nil {
		return err
	}

	if exhausted {
		slog.WarnContext(ctx, "webhook delivery exhausted", "error", &domain.DeliveryExhaustedError{
			SubscriptionID: sub.ID,
			EventID:        job.EventID,
			Attempts:       attempt.AttemptNumber,
		})
	} else {
		slog.InfoContext(ctx, "webhook delivery failed, retry scheduled",
			"attempt", attempt.AttemptNumber,
			"error", lastErr)
	}

	if deactivated {
		metrics.SubscriptionDeactivated()
		slog.WarnContext(ctx, "webhook subscription deactivated", "threshold", d.cfg.DeactivationThreshold)
		d.forgetLimiter(sub.ID)
	}

	d.publisher.Publish(ctx, batch.Events()...)
	return nil
}

func (d *Dispatcher) limiter(subscriptionID int64) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()

	l, ok := d.limiters[subscriptionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.cfg.RatePerSecond), 1)
		d.limiters[subscriptionID] = l
	}
	return l
}

func (d *Dispatcher) forgetLimiter(subscriptionID int64) {
	d.limitersMu.Lock()
	delete(d.limiters, subscriptionID)
	d.limitersMu.Unlock()
}
