package storage

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedStorage decorates another Storage with a read-through block cache.
// Reads of hot blocks are served from memory; writes go straight to the
// inner store and invalidate the cached copy, so a Get after a Set always
// observes the written bytes. The tree engine never sees the cache; it is
// an internal detail of the storage layer.
type CachedStorage struct {
	inner Storage
	cache *ristretto.Cache[uint64, []byte]
}

// NewCachedStorage wraps inner with a cache holding up to maxBlocks
// blocks.
func NewCachedStorage(inner Storage, maxBlocks int64) (*CachedStorage, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxBlocks * 10,
		MaxCost:     maxBlocks * int64(inner.BlockSize()),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}

	return &CachedStorage{
		inner: inner,
		cache: cache,
	}, nil
}

// Malloc delegates to the inner store.
func (s *CachedStorage) Malloc() (uint64, error) {
	return s.inner.Malloc()
}

// Get serves the block from cache when possible, falling back to the
// inner store and caching the result.
func (s *CachedStorage) Get(addr uint64) ([]byte, error) {
	if cached, ok := s.cache.Get(addr); ok {
		return append([]byte(nil), cached...), nil
	}

	data, err := s.inner.Get(addr)
	if err != nil {
		return nil, err
	}

	s.cache.Set(addr, append([]byte(nil), data...), int64(len(data)))
	return data, nil
}

// Set writes through to the inner store and drops the cached copy.
func (s *CachedStorage) Set(addr uint64, data []byte) error {
	if err := s.inner.Set(addr, data); err != nil {
		return err
	}

	s.cache.Del(addr)
	// Del is applied through a buffer; Wait makes the invalidation
	// visible before the next Get.
	s.cache.Wait()
	return nil
}

// Empty returns the inner store's "no block" sentinel.
func (s *CachedStorage) Empty() uint64 {
	return s.inner.Empty()
}

// Meta returns the inner store's metadata block address.
func (s *CachedStorage) Meta() uint64 {
	return s.inner.Meta()
}

// BlockSize returns the inner store's block size.
func (s *CachedStorage) BlockSize() uint64 {
	return s.inner.BlockSize()
}

// Close releases the cache and closes the inner store.
func (s *CachedStorage) Close() error {
	s.cache.Close()
	return s.inner.Close()
}
