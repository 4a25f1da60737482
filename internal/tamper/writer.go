package tamper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"residuechain/internal/notify"
	"residuechain/internal/platform/metrics"
	dErrors "residuechain/pkg/domain-errors"
	"residuechain/pkg/platform/sentinel"
)

// Writer appends tamper-evident hashes and verifies record integrity. The
// local append is synchronous; callers treat its failure as their own.
// Anchoring to the ledger happens later in the AnchorWriter.
type Writer struct {
	store       Store
	dispatcher  notify.Dispatcher
	authorities notify.AuthorityDirectory
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type WriterOption func(*Writer)

// WithAlerting wires the notification path used when a verification
// detects tampering.
func WithAlerting(dispatcher notify.Dispatcher, authorities notify.AuthorityDirectory) WriterOption {
	return func(w *Writer) {
		w.dispatcher = dispatcher
		w.authorities = authorities
	}
}

func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

func NewWriter(store Store, logger *slog.Logger, opts ...WriterOption) *Writer {
	w := &Writer{store: store, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append hashes the canonical string and appends it to the local log. The
// entry is queued for anchoring immediately.
func (w *Writer) Append(ctx context.Context, entityType EntityType, entityID string, canonical string) (Entry, error) {
	now := time.Now()
	e := Entry{
		ID:           uuid.New(),
		EntityType:   entityType,
		EntityID:     entityID,
		Hash:         HashCanonical(canonical),
		CreatedAt:    now,
		NextAnchorAt: now,
	}
	if err := w.store.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("append tamper log: %w", err)
	}
	return e, nil
}

// VerifyResult reports a verification outcome alongside both hashes so
// operators can inspect a mismatch.
type VerifyResult struct {
	Intact      bool
	CurrentHash string
	LoggedHash  string
	LoggedAt    time.Time
}

// Verify re-hashes the entity's current canonical form and compares it
// with the most recent logged hash. A mismatch returns CodeHashMismatch
// and alerts every authority account.
func (w *Writer) Verify(ctx context.Context, entityType EntityType, entityID string, canonical string) (VerifyResult, error) {
	latest, err := w.store.Latest(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return VerifyResult{}, dErrors.New(dErrors.CodeNotFound, "no tamper log entry for this record")
		}
		return VerifyResult{}, err
	}

	result := VerifyResult{
		CurrentHash: HashCanonical(canonical),
		LoggedHash:  latest.Hash,
		LoggedAt:    latest.CreatedAt,
	}
	result.Intact = result.CurrentHash == result.LoggedHash

	if result.Intact {
		w.countVerification("intact")
		return result, nil
	}

	w.countVerification("mismatch")
	w.logger.ErrorContext(ctx, "tamper detected",
		"entity_type", entityType, "entity_id", entityID,
		"logged_hash", result.LoggedHash, "current_hash", result.CurrentHash,
	)
	w.alertTamper(ctx, entityType, entityID)
	return result, dErrors.New(dErrors.CodeHashMismatch, "record hash does not match the tamper log")
}

func (w *Writer) alertTamper(ctx context.Context, entityType EntityType, entityID string) {
	if w.dispatcher == nil || w.authorities == nil {
		return
	}
	users, err := w.authorities.ListAuthorityUsers(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "list authority users failed", "error", err)
		return
	}
	for _, userID := range users {
		n := notify.Notification{
			UserID:   userID,
			Category: notify.CategoryAlert,
			Subtype:  notify.SubtypeTamperDetected,
			Message:  fmt.Sprintf("Integrity check failed for %s %s.", entityType, entityID),
		}
		if err := w.dispatcher.Send(ctx, n); err != nil {
			w.logger.ErrorContext(ctx, "tamper alert dispatch failed", "error", err)
		}
	}
}

func (w *Writer) countVerification(outcome string) {
	if w.metrics != nil {
		w.metrics.VerificationsTotal.WithLabelValues(outcome).Inc()
	}
}
