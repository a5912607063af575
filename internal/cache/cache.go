// Package cache provides caching for overlays and run results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	OverlayCacheSizeMB int
	OverlayTTL         time.Duration
	ResultCacheSize    int
}

// Manager manages overlay and result caches.
type Manager struct {
	overlayCache *bigcache.BigCache
	resultCache  *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.OverlayTTL <= 0 {
		cfg.OverlayTTL = 10 * time.Minute
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = 1
	}

	overlayCacheConfig := bigcache.Config{
		Shards:             16,
		LifeWindow:         cfg.OverlayTTL,
		CleanWindow:        cfg.OverlayTTL / 2,
		MaxEntriesInWindow: 256,
		MaxEntrySize:       256 * 1024, // one overlay per run
		HardMaxCacheSize:   cfg.OverlayCacheSizeMB,
		Verbose:            false,
	}

	overlayCache, err := bigcache.New(context.Background(), overlayCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay cache: %w", err)
	}

	resultCache, err := lru.New[string, []byte](cfg.ResultCacheSize)
	if err != nil {
		overlayCache.Close()
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	return &Manager{
		overlayCache: overlayCache,
		resultCache:  resultCache,
	}, nil
}

// GetOverlay retrieves a rendered overlay from cache.
func (m *Manager) GetOverlay(key string) ([]byte, bool) {
	data, err := m.overlayCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetOverlay stores a rendered overlay in cache.
func (m *Manager) SetOverlay(key string, data []byte) error {
	return m.overlayCache.Set(key, data)
}

// GetResult retrieves a serialized run result from cache.
func (m *Manager) GetResult(key string) ([]byte, bool) {
	return m.resultCache.Get(key)
}

// SetResult stores a serialized run result in cache.
func (m *Manager) SetResult(key string, data []byte) {
	m.resultCache.Add(key, data)
}

// InputKey identifies an analysis by its inputs and parameters, so identical
// submissions share a cache entry. cellsName is part of the key because
// region names are derived from it.
func InputKey(cellsName string, cellsData, spotsData []byte, ymax int, threshold float64) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(len(cellsName))))
	h.Write([]byte{0})
	h.Write([]byte(cellsName))
	h.Write([]byte(strconv.Itoa(len(cellsData))))
	h.Write([]byte{0})
	h.Write(cellsData)
	h.Write([]byte{0})
	h.Write(spotsData)
	return fmt.Sprintf("result:%s:%d:%s", hex.EncodeToString(h.Sum(nil))[:32], ymax,
		strconv.FormatFloat(threshold, 'g', -1, 64))
}

// OverlayKey generates a cache key for a run's overlay.
func OverlayKey(runID string, size int) string {
	return fmt.Sprintf("overlay:%s:%d", runID, size)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"overlay_cache_len": m.overlayCache.Len(),
		"overlay_cache_cap": m.overlayCache.Capacity(),
		"result_cache_len":  m.resultCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.overlayCache.Close()
}
