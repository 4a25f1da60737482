package tamper

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"residuechain/pkg/platform/sentinel"
)

// InMemoryStore keeps the tamper log in a slice, append order preserved.
type InMemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *InMemoryStore) Latest(_ context.Context, entityType EntityType, entityID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			return e, nil
		}
	}
	return Entry{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListUnanchored(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if !e.Anchored() && !e.NextAnchorAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkAnchored(_ context.Context, entryID uuid.UUID, ledgerID, confirmationRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			s.entries[i].LedgerID = ledgerID
			s.entries[i].ConfirmationRef = confirmationRef
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) Reschedule(_ context.Context, entryID uuid.UUID, attempts int, nextAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			s.entries[i].AnchorAttempts = attempts
			s.entries[i].NextAnchorAt = nextAt
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// All returns a snapshot of the log, for tests.
func (s *InMemoryStore) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry{}, s.entries...)
}
