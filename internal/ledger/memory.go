package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"residuechain/pkg/platform/sentinel"
)

// InMemoryLedger is the local stand-in for the external ledger, used in
// tests and in deployments without a ledger endpoint configured.
type InMemoryLedger struct {
	mu      sync.Mutex
	next    int
	records map[string]Record

	// FailStores makes Store return ErrUnavailable, for outage tests.
	FailStores bool
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{records: make(map[string]Record)}
}

func (l *InMemoryLedger) Store(_ context.Context, hash string) (Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailStores {
		return Confirmation{}, sentinel.ErrUnavailable
	}
	l.next++
	ledgerID := fmt.Sprintf("%d", l.next)
	l.records[ledgerID] = Record{Hash: hash, Timestamp: time.Now()}
	return Confirmation{
		LedgerID:        ledgerID,
		ConfirmationRef: fmt.Sprintf("0xconf%08d", l.next),
	}, nil
}

func (l *InMemoryLedger) Get(_ context.Context, ledgerID string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[ledgerID]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

// Len reports how many hashes have been anchored, for tests.
func (l *InMemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
