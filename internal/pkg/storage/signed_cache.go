package storage

import (
	"context"
	"time"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/cache"
)

// SignedURLCache wraps an ObjectStorage and reuses signed URLs until shortly
// before they expire. Deleting an object evicts its cached URL.
type SignedURLCache struct {
	ObjectStorage
	cache  *cache.TTLCache
	ttl    time.Duration
	margin time.Duration
}

func NewSignedURLCache(inner ObjectStorage, ttl time.Duration, clock cache.Clock) *SignedURLCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLCache{
		ObjectStorage: inner,
		cache:         cache.NewTTLCache(clock),
		ttl:           ttl,
		margin:        ttl / 10,
	}
}

// SignedURL ignores the caller ttl in favour of the cache ttl so cached
// entries and freshly signed ones have the same lifetime.
func (s *SignedURLCache) SignedURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	if url, ok := s.cache.Get(key); ok {
		return url, nil
	}
	url, err := s.ObjectStorage.SignedURL(ctx, key, s.ttl)
	if err != nil {
		return "", err
	}
	s.cache.Put(key, url, s.ttl-s.margin)
	return url, nil
}

func (s *SignedURLCache) Delete(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return s.ObjectStorage.Delete(ctx, key)
}

func (s *SignedURLCache) Close() {
	s.cache.Close()
}
