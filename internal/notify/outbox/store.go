// Package outbox implements the notification dispatcher as a transactional
// outbox: Send inserts a row (joining the caller's transaction when one is in
// context), and a worker drains pending rows to the message broker. A broker
// outage therefore delays delivery but never corrupts domain state.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"residuechain/internal/notify"
	dErrors "residuechain/pkg/domain-errors"
)

// Status of an outbox entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// maxAttempts before an entry is parked as failed and left for operators.
const maxAttempts = 10

// Entry is one queued notification.
type Entry struct {
	ID           uuid.UUID
	Notification notify.Notification
	Status       Status
	Attempts     int
	CreatedAt    time.Time
	PublishedAt  *time.Time
	LastError    string
}

// Store persists outbox entries.
type Store interface {
	Enqueue(ctx context.Context, n notify.Notification) error
	// ListPending returns pending entries oldest-first, up to limit.
	ListPending(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, entryID uuid.UUID) error
	MarkFailed(ctx context.Context, entryID uuid.UUID, attempts int, lastError string) error
}

// Dispatcher adapts a Store to the notify.Dispatcher contract.
type Dispatcher struct {
	store Store
}

func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{store: store}
}

func (d *Dispatcher) Send(ctx context.Context, n notify.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := d.store.Enqueue(ctx, n); err != nil {
		return dErrors.Wrap(dErrors.CodeDispatchFailed, "queue notification", err)
	}
	return nil
}
