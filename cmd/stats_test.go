package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/google/ouli/internal/storage"
)

func TestRunStatsWalksDirectoryWithoutError(t *testing.T) {
	logger = zap.NewNop().Sugar()

	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "example.ouli")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	writer, err := storage.Create(path, [32]byte{1})
	require.NoError(t, err)
	require.NoError(t, writer.AppendInteraction([32]byte{2}, [32]byte{}, []byte("req"), []byte("resp")))
	require.NoError(t, writer.Finalize([32]byte{2}))

	require.NoError(t, runStats(dir))
}

func TestRunStatsIgnoresNonRecordingFiles(t *testing.T) {
	logger = zap.NewNop().Sugar()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a recording"), 0o644))
	require.NoError(t, runStats(dir))
}
