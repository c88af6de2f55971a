package tombstone

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps tombstones in process memory with TTL expiry.
type MemoryStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates an in-process tombstone store. ttl <= 0 uses
// DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		cache: gocache.New(ttl, time.Minute),
		ttl:   ttl,
	}
}

// MarkRemoved records an id; the entry self-expires after the TTL.
func (s *MemoryStore) MarkRemoved(_ context.Context, id string) error {
	s.cache.Set(id, struct{}{}, s.ttl)
	return nil
}

// IsRemoved reports whether an id is inside its exclusion window.
func (s *MemoryStore) IsRemoved(_ context.Context, id string) bool {
	_, found := s.cache.Get(id)
	return found
}
