package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 16

type entry struct {
	value     []byte
	expiresAt time.Time
}

type shard struct {
	mu    sync.Mutex
	items map[string]entry
}

// MemoryStore implements Store in process memory. Keys are spread over
// independently locked shards.
type MemoryStore struct {
	shards []*shard
	mask   uint64
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n < 1 {
			n = 1
		}
		size := 1
		for size < n {
			size <<= 1
		}
		s.shards = newShards(size)
		s.mask = uint64(size - 1)
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards: newShards(defaultShards),
		mask:   defaultShards - 1,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{items: make(map[string]entry)}
	}
	return shards
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Get returns the value only while now is before the entry's expiry.
// An expired entry found here is evicted.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(sh.items, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value until now+ttl. A non-positive ttl stores nothing and
// drops any previous entry.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if ttl <= 0 {
		delete(sh.items, key)
		return
	}
	sh.items[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
}

// Delete removes one entry.
func (s *MemoryStore) Delete(_ context.Context, key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// Clear removes every entry.
func (s *MemoryStore) Clear(_ context.Context) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		clear(sh.items)
		sh.mu.Unlock()
	}
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Sweep removes all expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if !now.Before(e.expiresAt) {
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor sweeps expired entries every interval until the returned stop
// function is called. Safe to call stop more than once. A non-positive
// interval sweeps every minute.
func (s *MemoryStore) StartJanitor(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
