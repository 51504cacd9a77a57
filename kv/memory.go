package kv

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

func (e entry) expired(now time.Time) bool {
	return e.hasTTL && now.After(e.expires)
}

// MemStore is an in-process, mutex-guarded map satisfying Store, used
// by tests in the queue, pause, and recovery packages that exercise
// lock/flag semantics without a real Redis instance. Expiry is checked
// lazily on read, the same pattern the teacher's store.MemStore uses
// for its in-memory indexes.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemStore constructs an empty MemStore using the real wall clock.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = s.makeEntry(value, ttl)
	return nil
}

func (s *MemStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.expired(s.now()) {
		return false, nil
	}
	s.entries[key] = s.makeEntry(value, ttl)
	return true, nil
}

func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return false, nil
	}
	s.entries[key] = s.makeEntry(e.value, ttl)
	return true, nil
}

func (s *MemStore) makeEntry(value string, ttl time.Duration) entry {
	if ttl <= 0 {
		return entry{value: value}
	}
	return entry{value: value, expires: s.now().Add(ttl), hasTTL: true}
}
