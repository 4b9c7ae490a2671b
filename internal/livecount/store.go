package livecount

import "sync"

// Store holds the process-wide current count. Every broadcast writes to it.
type Store struct {
	mu    sync.RWMutex
	count int
}

// NewStore creates a store seeded with the fallback count.
func NewStore(initial int) *Store {
	return &Store{count: initial}
}

// Get returns the current count.
func (s *Store) Get() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Set overwrites the current count.
func (s *Store) Set(count int) {
	s.mu.Lock()
	s.count = count
	s.mu.Unlock()
}
