package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// Entry is one fixed-window counter. The count is monotonically
// increasing within a window; the window resets only when the wall
// clock passes ResetAt.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Store is the backing map for rate-limit windows. The increment lives
// on the interface so that backends can make it atomic; a distributed
// implementation can be swapped in without touching the middleware.
type Store interface {
	// Incr applies the fixed-window algorithm for key: a fresh or
	// expired window restarts at count 1, otherwise the count grows.
	Incr(key string, window time.Duration) Entry
	// Get returns the current entry without mutating it.
	Get(key string) (Entry, bool)
	// Delete removes a key.
	Delete(key string)
	// Sweep deletes all entries whose window expired before now and
	// returns how many were removed.
	Sweep(now time.Time) int
}

const numShards = 64

// shard is a single partition of the sharded map.
type shard struct {
	mu    sync.Mutex
	items map[string]Entry
}

// MemoryStore is the in-process Store: a concurrent map split into
// fixed shards to reduce lock contention.
type MemoryStore struct {
	shards [numShards]shard
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{now: time.Now}
	for i := range m.shards {
		m.shards[i].items = make(map[string]Entry)
	}
	return m
}

func (m *MemoryStore) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%numShards]
}

// Incr implements Store.
func (m *MemoryStore) Incr(key string, window time.Duration) Entry {
	now := m.now()

	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok || now.After(e.ResetAt) {
		e = Entry{Count: 1, ResetAt: now.Add(window)}
	} else {
		e.Count++
	}
	s.items[key] = e
	return e
}

// Get implements Store.
func (m *MemoryStore) Get(key string) (Entry, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	e, ok := s.items[key]
	s.mu.Unlock()
	return e, ok
}

// Delete implements Store.
func (m *MemoryStore) Delete(key string) {
	s := m.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Sweep implements Store.
func (m *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, e := range s.items {
			if now.After(e.ResetAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of live entries across all shards.
func (m *MemoryStore) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
