// Package memorymark provides an in-process MarkerStore. Markers survive
// reconnects within one process lifetime but not restarts; use redismark
// when resumption must span processes.
package memorymark

import (
	"context"
	"sync"
)

// Store is an in-memory marker store.
type Store struct {
	mu     sync.Mutex
	marker string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker, nil
}

func (s *Store) Store(ctx context.Context, marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = marker
	return nil
}
