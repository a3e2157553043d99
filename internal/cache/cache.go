// Package cache provides caching for rendered frames and backend responses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB  int
	FrameTTL          time.Duration
	ResponseCacheSize int
}

// Manager manages frame and response caches.
type Manager struct {
	frameCache    *bigcache.BigCache
	responseCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.FrameTTL <= 0 {
		cfg.FrameTTL = time.Minute
	}
	if cfg.ResponseCacheSize <= 0 {
		cfg.ResponseCacheSize = 64
	}

	frameCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.FrameTTL,
		CleanWindow:        cfg.FrameTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // 512KB per PNG frame
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	responseCache, err := lru.New[string, []byte](cfg.ResponseCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	return &Manager{
		frameCache:    frameCache,
		responseCache: responseCache,
	}, nil
}

// GetFrame retrieves a rendered frame from cache.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores a rendered frame in cache.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetResponse retrieves a backend response body from cache.
func (m *Manager) GetResponse(key string) ([]byte, bool) {
	return m.responseCache.Get(key)
}

// SetResponse stores a backend response body in cache.
func (m *Manager) SetResponse(key string, data []byte) {
	m.responseCache.Add(key, data)
}

// FrameKey generates a cache key for a rendered frame. The scene revision
// changes on every visible state change, so a key never outlives the frame
// it names.
func FrameKey(kind string, revision uint64, size int) string {
	return fmt.Sprintf("frame:%s:%d:%d", kind, revision, size)
}

// ResponseKey generates a cache key for a backend request. Long entry
// batches are hashed to keep keys short.
func ResponseKey(path, rawQuery string) string {
	base := "resp:" + path
	if len(rawQuery) <= 64 {
		return base + "?" + rawQuery
	}
	h := sha256.Sum256([]byte(rawQuery))
	return base + "#" + hex.EncodeToString(h[:])[:32]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len":    m.frameCache.Len(),
		"frame_cache_cap":    m.frameCache.Capacity(),
		"response_cache_len": m.responseCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}
