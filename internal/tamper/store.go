package tamper

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only row of the tamper log. LedgerID and
// ConfirmationRef stay empty until the anchor worker lands the hash on the
// external ledger.
type Entry struct {
	ID              uuid.UUID
	EntityType      EntityType
	EntityID        string
	Hash            string
	CreatedAt       time.Time
	LedgerID        string
	ConfirmationRef string
	AnchorAttempts  int
	NextAnchorAt    time.Time
}

// Anchored reports whether the entry has landed on the ledger.
func (e Entry) Anchored() bool { return e.LedgerID != "" }

// Store is the append-only tamper log. Entries are never updated except to
// record their ledger confirmation.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Latest returns the most recent entry for the entity, or
	// sentinel.ErrNotFound.
	Latest(ctx context.Context, entityType EntityType, entityID string) (Entry, error)
	// ListUnanchored returns unanchored entries due for an anchor attempt,
	// oldest-first.
	ListUnanchored(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	MarkAnchored(ctx context.Context, entryID uuid.UUID, ledgerID, confirmationRef string) error
	// Reschedule pushes an entry's next anchor attempt into the future
	// after a failure.
	Reschedule(ctx context.Context, entryID uuid.UUID, attempts int, nextAt time.Time) error
}
