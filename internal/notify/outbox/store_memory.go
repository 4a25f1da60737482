package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"residuechain/internal/notify"
	"residuechain/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Enqueue(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{
		ID:           uuid.New(),
		Notification: n,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (s *InMemoryStore) ListPending(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Status != StatusPending {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, entryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			now := time.Now()
			s.entries[i].Status = StatusPublished
			s.entries[i].PublishedAt = &now
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) MarkFailed(_ context.Context, entryID uuid.UUID, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			s.entries[i].Attempts = attempts
			s.entries[i].LastError = lastError
			if attempts >= maxAttempts {
				s.entries[i].Status = StatusFailed
			}
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// All returns a snapshot of every entry, for tests.
func (s *InMemoryStore) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry{}, s.entries...)
}
