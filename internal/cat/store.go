package cat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SessionStore persists attempts and answers owner lookups. SaveAttempt must
// be all-or-nothing and reject writes based on a stale Version, which gives
// the engine at-most-one-writer semantics per attempt.
type SessionStore interface {
	OwnerExists(ctx context.Context, ownerRef string) (bool, error)
	CreateAttempt(ctx context.Context, a Attempt) (Attempt, error)
	LoadAttempt(ctx context.Context, id string) (Attempt, error)
	SaveAttempt(ctx context.Context, a Attempt) error
}

// OwnerRegistrar is implemented by stores that can record new owners.
type OwnerRegistrar interface {
	RegisterOwner(ctx context.Context, ownerRef string) error
}

// MemoryStore is an in-memory implementation of SessionStore.
type MemoryStore struct {
	owners   map[string]bool
	attempts map[string]Attempt
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:   make(map[string]bool),
		attempts: make(map[string]Attempt),
	}
}

// RegisterOwner makes ownerRef known to OwnerExists.
func (s *MemoryStore) RegisterOwner(_ context.Context, ownerRef string) error {
	if ownerRef == "" {
		return fmt.Errorf("owner reference is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[ownerRef] = true
	return nil
}

func (s *MemoryStore) OwnerExists(_ context.Context, ownerRef string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owners[ownerRef], nil
}

func (s *MemoryStore) CreateAttempt(_ context.Context, a Attempt) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owners[a.OwnerRef] {
		return Attempt{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, a.OwnerRef)
	}
	a = a.Clone()
	a.ID = uuid.NewString()
	a.Version = 0
	s.attempts[a.ID] = a
	return a.Clone(), nil
}

func (s *MemoryStore) LoadAttempt(_ context.Context, id string) (Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return Attempt{}, fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) SaveAttempt(_ context.Context, a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.attempts[a.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, a.ID)
	}
	if cur.IsComplete {
		return fmt.Errorf("%w: %s", ErrAttemptComplete, a.ID)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("%w: %s", ErrConflict, a.ID)
	}
	a = a.Clone()
	a.Version++
	s.attempts[a.ID] = a
	return nil
}
