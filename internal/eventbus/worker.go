package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"basegraph.app/gatekeeper/common/logger"
)

type WorkerConfig struct {
	Name        string
	MaxAttempts int
}

// Worker drains one consumer group and hands each message to a processor.
// Failed messages are requeued until MaxAttempts, then dead-lettered.
type Worker struct {
	consumer  *RedisConsumer
	processor MessageProcessor
	cfg       WorkerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewWorker(consumer *RedisConsumer, processor MessageProcessor, cfg WorkerConfig) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "gatekeeper.eventbus." + w.cfg.Name})
	slog.InfoContext(ctx, "event worker started", "group", w.consumer.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "event worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.Handle(ctx, msg)
	}
	return nil
}

// Handle processes, acks, requeues or dead-letters one message. Exported so
// the reclaimer shares the same path.
func (w *Worker) Handle(ctx context.Context, msg Message) {
	msgID := msg.ID
	kind := string(msg.Kind)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msgID,
		EventID:   &msg.EventID,
		EventKind: &kind,
	})

	if msg.RetryGroup != "" && msg.RetryGroup != w.consumer.cfg.Group {
		_ = w.consumer.Ack(ctx, msg)
		return
	}

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "eventbus."+w.cfg.Name,
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	if err := w.processSafe(ctx, msg); err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "message processing failed", "error", err, "attempt", msg.Attempt)
		w.handleFailed(ctx, msg, err)
		return
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
}

func (w *Worker) processSafe(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor(ctx, msg)
}

func (w *Worker) handleFailed(ctx context.Context, msg Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
