package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"udstportal/portal-service/internal/store"
)

const defaultPollInterval = 5 * time.Second

// Worker delivers decision emails recorded in the outbox.
type Worker struct {
	store       store.OutboxStore
	provider    Provider
	logger      *slog.Logger
	now         func() time.Time
	batchSize   int
	maxAttempts int
}

type Config struct {
	BatchSize   int
	MaxAttempts int
}

func New(st store.OutboxStore, provider Provider, logger *slog.Logger, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       st,
		provider:    provider,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		batchSize:   batch,
		maxAttempts: maxAttempts,
	}
}

// Run processes one batch of undelivered events.
func (w *Worker) Run(ctx context.Context) error {
	events, err := w.store.ListPendingOutbox(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			w.logger.ErrorContext(ctx, "outbox event failed", "event_id", event.EventID, "type", event.Type, "err", err)
		}
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	if !strings.HasPrefix(event.Type, "request.") {
		return w.store.MarkOutboxDelivered(ctx, event.EventID, w.now())
	}
	msg, err := DecisionMessage(event)
	if err != nil {
		return w.store.MarkOutboxFailed(ctx, event.EventID, err.Error())
	}

	if sendErr := w.provider.Send(ctx, msg); sendErr != nil {
		if err := w.store.MarkOutboxFailed(ctx, event.EventID, sendErr.Error()); err != nil {
			return err
		}
		if event.Attempts+1 >= w.maxAttempts {
			w.logger.WarnContext(ctx, "outbox event gave up", "event_id", event.EventID, "attempts", event.Attempts+1)
		}
		return sendErr
	}
	return w.store.MarkOutboxDelivered(ctx, event.EventID, w.now())
}

// Start runs the worker every interval until ctx is done.
func Start(ctx context.Context, interval time.Duration, w *Worker) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				w.logger.ErrorContext(ctx, "notify worker error", "err", err)
			}
		}
	}
}
