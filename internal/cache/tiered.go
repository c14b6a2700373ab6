package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultLocalTTL bounds how long a value read from the shared tier is kept
// in the local tier.
const DefaultLocalTTL = time.Minute

// TieredStore keeps a local store in front of a shared one. Reads try the
// local tier first; shared hits are copied locally for at most localTTL.
type TieredStore struct {
	local    Store
	shared   Store
	localTTL time.Duration
}

// NewTieredStore combines a local and a shared store.
func NewTieredStore(local, shared Store, localTTL time.Duration) *TieredStore {
	if localTTL <= 0 {
		localTTL = DefaultLocalTTL
	}
	return &TieredStore{local: local, shared: shared, localTTL: localTTL}
}

func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := s.local.Get(ctx, key); ok {
		return value, true
	}
	value, ok := s.shared.Get(ctx, key)
	if !ok {
		return nil, false
	}
	s.local.Set(ctx, key, value, s.localTTL)
	return value, true
}

// Set writes both tiers. The local copy never outlives ttl.
func (s *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	s.local.Set(ctx, key, value, min(ttl, s.localTTL))
	s.shared.Set(ctx, key, value, ttl)
}

func (s *TieredStore) Delete(ctx context.Context, key string) {
	s.local.Delete(ctx, key)
	s.shared.Delete(ctx, key)
}

func (s *TieredStore) Clear(ctx context.Context) {
	s.local.Clear(ctx)
	s.shared.Clear(ctx)
}

func (s *TieredStore) Close() error {
	return errors.Join(s.local.Close(), s.shared.Close())
}
