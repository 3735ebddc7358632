package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PreviewCache stores rendered previews (thumbnail PNGs, finished GIFs) on
// disk, keyed by a hash of the full render request. A small in-memory LRU
// keeps the hottest entries out of the filesystem entirely; the disk layer
// persists across restarts and is size-bounded with background eviction.
type PreviewCache struct {
	baseDir   string
	maxSize   int64 // Maximum disk size in bytes
	currSize  int64 // Current disk size (atomic)
	ttl       time.Duration
	mu        sync.RWMutex
	index     map[string]*Entry
	hot       *lru.Cache[string, []byte]
	evictChan chan struct{}
}

// Entry describes one cached preview on disk.
type Entry struct {
	Key        string
	FilePath   string
	Size       int64
	AccessTime time.Time
	CreateTime time.Time
}

// NewPreviewCache creates a preview cache rooted at baseDir. hotEntries
// bounds the in-memory layer; maxSizeMB bounds the disk layer; entries
// older than ttlDays are dropped on access.
func NewPreviewCache(baseDir string, maxSizeMB, hotEntries, ttlDays int) (*PreviewCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if hotEntries < 1 {
		hotEntries = 64
	}
	hot, err := lru.New[string, []byte](hotEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	c := &PreviewCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		index:     make(map[string]*Entry),
		hot:       hot,
		evictChan: make(chan struct{}, 1),
	}

	if err := c.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	go c.evictionWorker()

	return c, nil
}

// Key derives the cache key for a render request from its identifying parts.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a preview, consulting the memory layer first.
func (c *PreviewCache) Get(key string) ([]byte, bool) {
	if data, ok := c.hot.Get(key); ok {
		return data, true
	}

	c.mu.RLock()
	entry, exists := c.index[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.CreateTime) > c.ttl {
		c.remove(key)
		return nil, false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		c.remove(key)
		return nil, false
	}

	c.mu.Lock()
	entry.AccessTime = time.Now()
	c.mu.Unlock()

	c.hot.Add(key, data)
	return data, true
}

// Set stores a preview in both layers.
func (c *PreviewCache) Set(key string, data []byte) error {
	c.hot.Add(key, data)

	size := int64(len(data))

	// Keys are hex digests; two-level fanout avoids huge directories.
	if len(key) < 2 {
		return fmt.Errorf("cache key too short: %q", key)
	}
	filePath := filepath.Join(c.baseDir, key[:2], key+".bin")

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		Key:        key,
		FilePath:   filePath,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}

	c.mu.Lock()
	if old, exists := c.index[key]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
		os.Remove(old.FilePath)
	}
	c.index[key] = entry
	c.mu.Unlock()

	atomic.AddInt64(&c.currSize, size)

	if atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default: // Already signaled
		}
	}

	return nil
}

func (c *PreviewCache) remove(key string) {
	c.hot.Remove(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, exists := c.index[key]; exists {
		os.Remove(entry.FilePath)
		delete(c.index, key)
		atomic.AddInt64(&c.currSize, -entry.Size)
	}
}

func (c *PreviewCache) evictionWorker() {
	for range c.evictChan {
		c.evict()
	}
}

// evict removes least recently used previews until under max size.
func (c *PreviewCache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}

	// Target 90% of max to avoid thrashing.
	targetSize := c.maxSize * 9 / 10

	entries := make([]*Entry, 0, len(c.index))
	for _, entry := range c.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	for _, entry := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(entry.FilePath)
		c.hot.Remove(entry.Key)
		delete(c.index, entry.Key)
		atomic.AddInt64(&c.currSize, -entry.Size)
		currSize -= entry.Size
	}
}

// loadIndex scans the cache directory and rebuilds the in-memory index.
func (c *PreviewCache) loadIndex() error {
	return filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if info.IsDir() || filepath.Ext(path) != ".bin" {
			return nil
		}

		name := filepath.Base(path)
		key := name[:len(name)-len(".bin")]

		c.index[key] = &Entry{
			Key:        key,
			FilePath:   path,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		atomic.AddInt64(&c.currSize, info.Size())
		return nil
	})
}

// Stats returns cache statistics.
func (c *PreviewCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index), atomic.LoadInt64(&c.currSize), c.maxSize
}

// UsageStats summarizes cache occupancy for the admin surface.
type UsageStats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	SizeMB    float64 `json:"sizeMB"`
	MaxMB     float64 `json:"maxMB"`
	CachePath string  `json:"cachePath"`
}

// Usage returns the occupancy summary served by the admin API.
func (c *PreviewCache) Usage() UsageStats {
	entries, sizeBytes, maxBytes := c.Stats()
	return UsageStats{
		Entries:   entries,
		SizeBytes: sizeBytes,
		MaxBytes:  maxBytes,
		SizeMB:    float64(sizeBytes) / 1024 / 1024,
		MaxMB:     float64(maxBytes) / 1024 / 1024,
		CachePath: c.baseDir,
	}
}

// GetCachePath returns the cache directory.
func (c *PreviewCache) GetCachePath() string {
	return c.baseDir
}

// Clear removes all cached previews from both layers.
func (c *PreviewCache) Clear() error {
	c.hot.Purge()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.index {
		os.Remove(entry.FilePath)
	}
	c.index = make(map[string]*Entry)
	atomic.StoreInt64(&c.currSize, 0)
	return nil
}
