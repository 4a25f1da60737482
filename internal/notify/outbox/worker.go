package outbox

import (
	"context"
	"log/slog"
	"time"

	"residuechain/internal/notify"
	"residuechain/internal/platform/metrics"
)

// Publisher delivers a notification to its downstream channel.
type Publisher interface {
	Publish(ctx context.Context, n notify.Notification) error
}

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
)

// Worker drains pending outbox entries and publishes them. Entries that
// fail to publish stay pending and are retried on the next pass until
// the attempt limit marks them failed.
type Worker struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

type WorkerOption func(*Worker)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) { w.batchSize = n }
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(store Store, publisher Publisher, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the outbox until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	entries, err := w.store.ListPending(ctx, w.batchSize)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := w.publisher.Publish(ctx, entry.Notification); err != nil {
			if w.metrics != nil {
				w.metrics.OutboxFailures.Inc()
			}
			w.logger.WarnContext(ctx, "notification publish failed",
				"entry_id", entry.ID,
				"subtype", entry.Notification.Subtype,
				"attempts", entry.Attempts+1,
				"error", err,
			)
			if markErr := w.store.MarkFailed(ctx, entry.ID, entry.Attempts+1, err.Error()); markErr != nil {
				w.logger.ErrorContext(ctx, "mark outbox entry failed", "entry_id", entry.ID, "error", markErr)
			}
			continue
		}
		if w.metrics != nil {
			w.metrics.OutboxPublished.Inc()
		}
		if err := w.store.MarkPublished(ctx, entry.ID); err != nil {
			w.logger.ErrorContext(ctx, "mark outbox entry published", "entry_id", entry.ID, "error", err)
		}
	}
	return nil
}
