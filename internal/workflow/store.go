package workflow

import (
	"context"
	"errors"
	"sync"
)

// ErrStateNotFound is returned by Store.Get when a key has no state.
var ErrStateNotFound = errors.New("workflow state not found")

// Store persists workflow states by conversation key. Implementations must be
// safe for concurrent use. MemoryStore is the default; a durable backend only
// needs to implement these three methods.
type Store interface {
	// Get returns the state for key or ErrStateNotFound.
	Get(ctx context.Context, key string) (State, error)
	// Set stores state for key, replacing any previous state.
	Set(ctx context.Context, key string, state State) error
	// Delete removes the state for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-memory Store. It is thread-safe and suitable for
// single-instance deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Get returns the state for key. States are value types, so callers cannot
// mutate stored state.
func (s *MemoryStore) Get(ctx context.Context, key string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st, nil
}

// Set stores state for key.
func (s *MemoryStore) Set(ctx context.Context, key string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[key] = state
	return nil
}

// Delete removes the state for key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, key)
	return nil
}

// Len returns the number of stored states.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
