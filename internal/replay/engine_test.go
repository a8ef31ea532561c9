package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/storage"
	"github.com/google/ouli/internal/wire"
)

func TestEngineCreation(t *testing.T) {
	engine := NewEngine(t.TempDir(), Lazy, nil)
	stats := engine.CacheStats()
	assert.EqualValues(t, 0, stats.Hits)
	assert.EqualValues(t, 0, stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestReplayRequestMiss(t *testing.T) {
	engine := NewEngine(t.TempDir(), Lazy, nil)
	req := fingerprint.Request{Method: "GET", Path: "/test"}

	_, err := engine.ReplayRequest(req, [32]byte{})
	assert.Error(t, err)
	assert.EqualValues(t, 1, engine.CacheStats().Misses)
}

func TestReplayRequestHitAfterLoad(t *testing.T) {
	dir := t.TempDir()
	req := fingerprint.Request{Method: "GET", Path: "/test"}
	hash := fingerprint.Fingerprint(req, fingerprint.ChainHead)

	path := dir + "/test1.ouli"
	writer, err := storage.Create(path, [32]byte{})
	require.NoError(t, err)
	resp := wire.Response{Status: 200, Body: []byte("hello")}
	require.NoError(t, writer.AppendInteraction(hash, fingerprint.ChainHead, wire.EncodeRequest(req), wire.EncodeResponse(resp)))
	require.NoError(t, writer.Finalize(hash))

	engine := NewEngine(dir, Lazy, nil)
	require.NoError(t, engine.LoadRecording("test1"))

	got, err := engine.ReplayRequest(req, fingerprint.ChainHead)
	require.NoError(t, err)
	assert.EqualValues(t, 200, got.Status)
	assert.Equal(t, []byte("hello"), got.Body)
}

func TestClearCacheResetsCounters(t *testing.T) {
	engine := NewEngine(t.TempDir(), Lazy, nil)
	req := fingerprint.Request{Method: "GET", Path: "/test"}
	_, _ = engine.ReplayRequest(req, [32]byte{})

	assert.EqualValues(t, 1, engine.CacheStats().Misses)

	engine.ClearCache()
	assert.EqualValues(t, 0, engine.CacheStats().Misses)
}
