package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore keeps recently read objects in memory. Writes and deletes go
// to the origin first and then update the cache.
type CachedStore struct {
	origin BlobStore
	cache  *lru.Cache[string, []byte]
}

func NewCachedStore(origin BlobStore, size int) (*CachedStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob cache: %w", err)
	}
	return &CachedStore{origin: origin, cache: cache}, nil
}

func (s *CachedStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.origin.Put(ctx, key, data, contentType); err != nil {
		s.cache.Remove(key)
		return err
	}
	s.cache.Add(key, append([]byte(nil), data...))
	return nil
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.cache.Get(key); ok {
		return append([]byte(nil), data...), nil
	}
	data, err := s.origin.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, append([]byte(nil), data...))
	return data, nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return s.origin.Delete(ctx, key)
}

func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.cache.Contains(key) {
		return true, nil
	}
	return s.origin.Exists(ctx, key)
}
