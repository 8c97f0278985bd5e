// Package session stores in-progress signing sessions (placement layout plus
// the captured signature image) keyed by session ID, with a TTL so abandoned
// sessions clean themselves up.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"signoff/api/internal/placement"
)

// ErrNotFound is returned when the session does not exist or has expired.
var ErrNotFound = errors.New("session: not found or expired")

// Store persists placement session snapshots.
type Store interface {
	Save(ctx context.Context, state placement.State, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) (placement.State, error)
	Delete(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// MemoryStore is the single-process fallback used when no Redis URL is
// configured, and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	state     placement.State
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(_ context.Context, state placement.State, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ID] = memoryEntry{state: state, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (placement.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.sessions, sessionID)
		return placement.State{}, ErrNotFound
	}
	return entry.state, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
