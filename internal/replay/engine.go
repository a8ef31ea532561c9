package replay

import (
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/ouerr"
	"github.com/google/ouli/internal/wire"
)

// Engine serves recorded responses for replay. It is stateless per call:
// the caller owns chain state and supplies prevHash explicitly, which lets
// independent connections replay concurrently without sharing a lock here.
type Engine struct {
	cache  *Cache
	logger *zap.SugaredLogger
}

// NewEngine returns a replay engine backed by a cache over recordingDir.
func NewEngine(recordingDir string, strategy WarmingStrategy, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{cache: NewCache(recordingDir, strategy, logger), logger: logger}
}

// Warm populates the underlying cache per its configured strategy.
func (e *Engine) Warm() error { return e.cache.Warm() }

// LoadRecording loads one named recording into the cache on demand.
func (e *Engine) LoadRecording(testName string) error { return e.cache.LoadRecording(testName) }

// ReplayRequest fingerprints the given request tuple against prevHash and
// returns the cached response for it, or a *ouerr.RecordingNotFound error
// on a miss.
func (e *Engine) ReplayRequest(req fingerprint.Request, prevHash [32]byte) (wire.Response, error) {
	requestHash := fingerprint.Fingerprint(req, prevHash)

	e.logger.Debugw("replaying request", "method", req.Method, "hash", hex.EncodeToString(requestHash[:8]))

	resp, ok := e.cache.Lookup(requestHash)
	if !ok {
		e.logger.Warnw("cache miss", "method", req.Method, "path", req.Path, "hash", hex.EncodeToString(requestHash[:8]))
		return wire.Response{}, &ouerr.RecordingNotFound{Hash: requestHash}
	}

	e.logger.Debugw("cache hit", "method", req.Method, "path", req.Path, "status", resp.Status)
	return resp, nil
}

// Stats summarizes the underlying cache's hit/miss behavior.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
	Size    int
}

// CacheStats reports the engine's current cache statistics.
func (e *Engine) CacheStats() Stats {
	return Stats{
		Hits:    e.cache.HitCount(),
		Misses:  e.cache.MissCount(),
		HitRate: e.cache.HitRate(),
		Size:    e.cache.Size(),
	}
}

// ClearCache empties the underlying cache and resets its counters.
func (e *Engine) ClearCache() {
	e.logger.Info("clearing replay cache")
	e.cache.Clear()
}
