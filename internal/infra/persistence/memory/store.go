// Package memory keeps caller-owned state in process memory. Nothing survives
// a restart; it backs tests and one-shot commands.
package memory

import (
	"context"
	"errors"
	"sync"
)

var errClosed = errors.New("memory store closed")

// Store maps buckets to payloads.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]byte
	closed  bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{buckets: make(map[string][]byte)}
}

// Load returns a copy of the payload under bucket.
func (s *Store) Load(_ context.Context, bucket string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, errClosed
	}
	payload, ok := s.buckets[bucket]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

// Save stores a copy of payload under bucket.
func (s *Store) Save(_ context.Context, bucket string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.buckets[bucket] = append([]byte(nil), payload...)
	return nil
}

// Delete removes bucket.
func (s *Store) Delete(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	delete(s.buckets, bucket)
	return nil
}

// Close marks the store closed; later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.buckets = nil
	s.mu.Unlock()
	return nil
}
