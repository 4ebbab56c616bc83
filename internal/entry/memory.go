package entry

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/securelog/entries-api/internal/clock"
)

// MemoryStore keeps entries in a map. Contents are lost on restart.
type MemoryStore struct {
	clock   clock.Clock
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk, entries: make(map[string]Entry)}
}

func (s *MemoryStore) Create(_ context.Context, content, ipAddress string) (*Entry, error) {
	now := s.clock.Now()
	e := Entry{
		ID:        uuid.New().String(),
		Content:   content,
		IPAddress: ipAddress,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
	return &e, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		e := e
		out = append(out, &e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id, content string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.Content = content
	e.UpdatedAt = s.clock.Now()
	s.entries[id] = e
	return &e, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}
