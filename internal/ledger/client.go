// Package ledger abstracts the external immutable ledger that audit
// hashes are anchored to. The ledger is a best-effort, eventually
// consistent anchor; callers must tolerate unavailability.
package ledger

import (
	"context"
	"time"
)

// Confirmation is the ledger's receipt for a stored hash.
type Confirmation struct {
	LedgerID        string
	ConfirmationRef string
}

// Record is a previously anchored hash.
type Record struct {
	Hash      string
	Timestamp time.Time
}

// Client talks to the external ledger.
type Client interface {
	Store(ctx context.Context, hash string) (Confirmation, error)
	Get(ctx context.Context, ledgerID string) (Record, error)
}
