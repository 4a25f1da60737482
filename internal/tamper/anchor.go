package tamper

import (
	"context"
	"log/slog"
	"time"

	"residuechain/internal/ledger"
	"residuechain/internal/platform/metrics"
	"residuechain/pkg/platform/circuit"
)

const (
	defaultAnchorInterval = 15 * time.Second
	defaultAnchorTimeout  = 10 * time.Second
	defaultAnchorBatch    = 50

	anchorBackoffBase = 30 * time.Second
	anchorBackoffMax  = time.Hour
)

// AnchorWorker submits unanchored hashes to the external ledger. Ledger
// outages trip a circuit breaker; entries stay in the log and are retried
// with exponential backoff, so unavailability never blocks callers.
type AnchorWorker struct {
	store    Store
	client   ledger.Client
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	timeout  time.Duration
	batch    int
}

type AnchorOption func(*AnchorWorker)

func WithAnchorInterval(d time.Duration) AnchorOption {
	return func(w *AnchorWorker) { w.interval = d }
}

func WithAnchorTimeout(d time.Duration) AnchorOption {
	return func(w *AnchorWorker) { w.timeout = d }
}

func WithAnchorMetrics(m *metrics.Metrics) AnchorOption {
	return func(w *AnchorWorker) { w.metrics = m }
}

func NewAnchorWorker(store Store, client ledger.Client, logger *slog.Logger, opts ...AnchorOption) *AnchorWorker {
	w := &AnchorWorker{
		store:    store,
		client:   client,
		breaker:  circuit.New("ledger", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(2)),
		logger:   logger,
		interval: defaultAnchorInterval,
		timeout:  defaultAnchorTimeout,
		batch:    defaultAnchorBatch,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains unanchored entries until ctx is cancelled.
func (w *AnchorWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx, time.Now()); err != nil {
				w.logger.ErrorContext(ctx, "anchor drain failed", "error", err)
			}
		}
	}
}

// Drain attempts one anchor pass over the due entries.
func (w *AnchorWorker) Drain(ctx context.Context, now time.Time) error {
	entries, err := w.store.ListUnanchored(ctx, now, w.batch)
	if err != nil {
		return err
	}

	probed := false
	for _, e := range entries {
		// An open breaker lets a single probe through per pass; the rest
		// of the batch waits for its backoff.
		if w.breaker.IsOpen() {
			if probed {
				w.reschedule(ctx, e, now)
				continue
			}
			probed = true
		}

		callCtx, cancel := context.WithTimeout(ctx, w.timeout)
		conf, err := w.client.Store(callCtx, e.Hash)
		cancel()

		if err != nil {
			w.countAnchor("failure")
			if _, change := w.breaker.RecordFailure(); change.Opened {
				w.logger.WarnContext(ctx, "ledger circuit opened")
			}
			w.logger.WarnContext(ctx, "ledger anchor failed",
				"entry_id", e.ID, "attempts", e.AnchorAttempts+1, "error", err)
			w.reschedule(ctx, e, now)
			continue
		}

		if _, change := w.breaker.RecordSuccess(); change.Closed {
			w.logger.InfoContext(ctx, "ledger circuit closed")
		}
		if err := w.store.MarkAnchored(ctx, e.ID, conf.LedgerID, conf.ConfirmationRef); err != nil {
			w.logger.ErrorContext(ctx, "mark anchored failed", "entry_id", e.ID, "error", err)
			continue
		}
		w.countAnchor("success")
	}
	return nil
}

func (w *AnchorWorker) reschedule(ctx context.Context, e Entry, now time.Time) {
	attempts := e.AnchorAttempts + 1
	backoff := anchorBackoffBase << min(attempts-1, 10)
	if backoff > anchorBackoffMax {
		backoff = anchorBackoffMax
	}
	if err := w.store.Reschedule(ctx, e.ID, attempts, now.Add(backoff)); err != nil {
		w.logger.ErrorContext(ctx, "reschedule anchor failed", "entry_id", e.ID, "error", err)
	}
}

func (w *AnchorWorker) countAnchor(outcome string) {
	if w.metrics != nil {
		w.metrics.AnchorsTotal.WithLabelValues(outcome).Inc()
	}
}
