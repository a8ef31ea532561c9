// Package replay implements the replay-side components: a process-wide (per
// dispatcher instance) cache of recorded responses keyed by request hash,
// and a stateless engine that looks requests up in it.
package replay

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/google/ouli/internal/ouerr"
	"github.com/google/ouli/internal/storage"
	"github.com/google/ouli/internal/wire"
)

// WarmingStrategy controls when a Cache loads recordings from disk.
type WarmingStrategy int

const (
	// Lazy means Warm is a no-op; recordings are only loaded on demand
	// (by an explicit LoadRecording call).
	Lazy WarmingStrategy = iota
	// Eager means Warm loads every recording in the cache's directory.
	Eager
)

// Cache holds every loaded recording's responses, keyed by request hash,
// plus which recording file each test name came from and hit/miss
// counters. It belongs to a single replay engine instance; there is no
// process-wide singleton.
type Cache struct {
	recordingDir string
	strategy     WarmingStrategy
	logger       *zap.SugaredLogger

	mu         sync.RWMutex
	entries    map[[32]byte]wire.Response
	recordings map[string]string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a cache that loads `.ouli` files from recordingDir
// according to strategy.
func NewCache(recordingDir string, strategy WarmingStrategy, logger *zap.SugaredLogger) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		recordingDir: recordingDir,
		strategy:     strategy,
		logger:       logger,
		entries:      make(map[[32]byte]wire.Response),
		recordings:   make(map[string]string),
	}
}

// LoadRecording opens `<recordingDir>/<testName>.ouli` and inserts every
// interaction's response into the cache, keyed by request hash. A single
// interaction that fails to deserialize is logged and skipped; the
// recording's other interactions still load. Hashes repeated across
// recordings are last-write-wins: a later LoadRecording call overrides an
// earlier one's entry for the same hash.
func (c *Cache) LoadRecording(testName string) error {
	path := filepath.Join(c.recordingDir, testName+".ouli")
	if _, err := os.Stat(path); err != nil {
		return &ouerr.FileNotFound{Path: path}
	}

	reader, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	loaded := 0
	for _, entry := range reader.AllEntries() {
		data, err := reader.ReadResponse(entry)
		if err != nil {
			c.logger.Warnw("skipping interaction: response unreadable", "recording", testName, "error", err)
			continue
		}
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			c.logger.Warnw("skipping interaction: response undecodable", "recording", testName, "error", err)
			continue
		}

		c.mu.Lock()
		c.entries[entry.RequestHash] = resp
		c.mu.Unlock()
		loaded++
	}

	c.mu.Lock()
	c.recordings[testName] = path
	c.mu.Unlock()

	c.logger.Infow("loaded recording", "test_name", testName, "interactions", loaded)
	return nil
}

// LoadAll enumerates every `.ouli` file in the cache's recording directory
// and loads each one. A single file's load failure is logged and the rest
// still load.
func (c *Cache) LoadAll() error {
	entries, err := os.ReadDir(c.recordingDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ouli") {
			continue
		}
		testName := strings.TrimSuffix(entry.Name(), ".ouli")
		if err := c.LoadRecording(testName); err != nil {
			c.logger.Warnw("failed to load recording", "test_name", testName, "error", err)
		}
	}
	return nil
}

// Warm populates the cache per its warming strategy: Eager loads every
// recording now, Lazy does nothing (recordings load only through an
// explicit LoadRecording call; a lookup miss loads nothing).
func (c *Cache) Warm() error {
	switch c.strategy {
	case Eager:
		c.logger.Info("warming cache eagerly")
		return c.LoadAll()
	default:
		c.logger.Debug("using lazy cache warming")
		return nil
	}
}

// Lookup returns the cached response for hash, if any, incrementing the
// hit or miss counter accordingly.
func (c *Cache) Lookup(hash [32]byte) (wire.Response, bool) {
	c.mu.RLock()
	resp, ok := c.entries[hash]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		return resp, true
	}
	c.misses.Add(1)
	return wire.Response{}, false
}

// HitCount returns the number of successful lookups so far.
func (c *Cache) HitCount() int64 { return c.hits.Load() }

// MissCount returns the number of failed lookups so far.
func (c *Cache) MissCount() int64 { return c.misses.Load() }

// HitRate returns hits/(hits+misses), or 0 if there have been no lookups.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of distinct cached responses.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache's entries and recording map and resets both
// counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[[32]byte]wire.Response)
	c.recordings = make(map[string]string)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
}
