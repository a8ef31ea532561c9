package replay

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/ouli/internal/storage"
	"github.com/google/ouli/internal/wire"
)

func writeFixtureRecording(t *testing.T, dir, testName string, requestHash [32]byte, resp wire.Response) {
	t.Helper()
	path := filepath.Join(dir, testName+".ouli")
	writer, err := storage.Create(path, [32]byte{})
	require.NoError(t, err)
	require.NoError(t, writer.AppendInteraction(requestHash, [32]byte{}, []byte("req"), wire.EncodeResponse(resp)))
	require.NoError(t, writer.Finalize(requestHash))
}

func TestCacheCreation(t *testing.T) {
	cache := NewCache(t.TempDir(), Lazy, nil)
	assert.Equal(t, 0, cache.Size())
	assert.EqualValues(t, 0, cache.HitCount())
	assert.EqualValues(t, 0, cache.MissCount())
}

func TestCacheLookupMiss(t *testing.T) {
	cache := NewCache(t.TempDir(), Lazy, nil)
	_, ok := cache.Lookup([32]byte{1})
	assert.False(t, ok)
	assert.EqualValues(t, 1, cache.MissCount())
}

func TestCacheLoadRecordingThenHit(t *testing.T) {
	dir := t.TempDir()
	hash := [32]byte{1}
	writeFixtureRecording(t, dir, "test1", hash, wire.Response{Status: 200, Body: []byte("ok")})

	cache := NewCache(dir, Lazy, nil)
	require.NoError(t, cache.LoadRecording("test1"))

	resp, ok := cache.Lookup(hash)
	require.True(t, ok)
	assert.EqualValues(t, 200, resp.Status)
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.EqualValues(t, 1, cache.HitCount())
}

func TestCacheLoadRecordingMissingFile(t *testing.T) {
	cache := NewCache(t.TempDir(), Lazy, nil)
	err := cache.LoadRecording("nope")
	assert.Error(t, err)
}

func TestCacheLastWriteWinsAcrossRecordings(t *testing.T) {
	dir := t.TempDir()
	hash := [32]byte{5}
	writeFixtureRecording(t, dir, "first", hash, wire.Response{Status: 200, Body: []byte("first")})
	writeFixtureRecording(t, dir, "second", hash, wire.Response{Status: 201, Body: []byte("second")})

	cache := NewCache(dir, Lazy, nil)
	require.NoError(t, cache.LoadRecording("first"))
	require.NoError(t, cache.LoadRecording("second"))

	resp, ok := cache.Lookup(hash)
	require.True(t, ok)
	assert.EqualValues(t, 201, resp.Status, "later load must win on a duplicate hash")
}

func TestCacheWarmEagerLoadsAllThenIdempotent(t *testing.T) {
	dir := t.TempDir()
	hash1, hash2 := [32]byte{1}, [32]byte{2}
	writeFixtureRecording(t, dir, "a", hash1, wire.Response{Status: 200})
	writeFixtureRecording(t, dir, "b", hash2, wire.Response{Status: 200})

	cache := NewCache(dir, Eager, nil)
	require.NoError(t, cache.Warm())
	assert.Equal(t, 2, cache.Size())

	_, ok := cache.Lookup(hash1)
	require.True(t, ok)
	sizeBefore := cache.Size()
	hitsBefore := cache.HitCount()
	missesBefore := cache.MissCount()

	require.NoError(t, cache.Warm())
	assert.Equal(t, sizeBefore, cache.Size(), "re-warming must not change cache size")
	assert.Equal(t, hitsBefore, cache.HitCount(), "warm must not reset hit counters")
	assert.Equal(t, missesBefore, cache.MissCount(), "warm must not reset miss counters")
}

func TestCacheWarmLazyIsNoOp(t *testing.T) {
	dir := t.TempDir()
	writeFixtureRecording(t, dir, "a", [32]byte{1}, wire.Response{Status: 200})

	cache := NewCache(dir, Lazy, nil)
	require.NoError(t, cache.Warm())
	assert.Equal(t, 0, cache.Size())
}

func TestCacheMetricsAndHitRate(t *testing.T) {
	dir := t.TempDir()
	hash := [32]byte{1}
	writeFixtureRecording(t, dir, "a", hash, wire.Response{Status: 200})

	cache := NewCache(dir, Lazy, nil)
	require.NoError(t, cache.LoadRecording("a"))

	_, _ = cache.Lookup(hash)
	_, _ = cache.Lookup([32]byte{9})

	assert.InDelta(t, 0.5, cache.HitRate(), 0.01)
}

func TestCacheClear(t *testing.T) {
	dir := t.TempDir()
	writeFixtureRecording(t, dir, "a", [32]byte{1}, wire.Response{Status: 200})

	cache := NewCache(dir, Lazy, nil)
	require.NoError(t, cache.LoadRecording("a"))
	assert.Equal(t, 1, cache.Size())

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
	assert.EqualValues(t, 0, cache.HitCount())
	assert.EqualValues(t, 0, cache.MissCount())
}
