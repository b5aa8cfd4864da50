package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapipe/pkg/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New("test", &logging.Config{
		Level:        slog.LevelError,
		OutputFormat: "json",
		Output:       os.Stderr,
	})
	require.NoError(t, err)
	return logger
}

func writeFileWithMtime(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestSweepDirDeletesOnlyFilesOlderThanTTL(t *testing.T) {
	resultsDir := t.TempDir()
	uploadsDir := t.TempDir()
	scratchDir := t.TempDir()
	c := New(resultsDir, uploadsDir, scratchDir, 3, time.Hour, 0, testLogger(t))

	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixedNow }

	oldPath := writeFileWithMtime(t, resultsDir, "old.mp4", fixedNow.Add(-4*time.Hour))
	freshPath := writeFileWithMtime(t, resultsDir, "fresh.mp4", fixedNow.Add(-1*time.Hour))

	deleted, err := c.sweepDir(resultsDir, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, freshPath)
}

func TestSweepDirLeavesSubdirectoriesAlone(t *testing.T) {
	resultsDir := t.TempDir()
	uploadsDir := t.TempDir()
	scratchDir := t.TempDir()
	c := New(resultsDir, uploadsDir, scratchDir, 3, time.Hour, 0, testLogger(t))

	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixedNow }

	subdir := filepath.Join(resultsDir, "nested")
	require.NoError(t, os.Mkdir(subdir, 0o755))
	require.NoError(t, os.Chtimes(subdir, fixedNow.Add(-100*time.Hour), fixedNow.Add(-100*time.Hour)))

	deleted, err := c.sweepDir(resultsDir, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.DirExists(t, subdir)
}

func TestForceSweepZeroTTLDeletesEverythingRegardlessOfAge(t *testing.T) {
	resultsDir := t.TempDir()
	uploadsDir := t.TempDir()
	scratchDir := t.TempDir()
	c := New(resultsDir, uploadsDir, scratchDir, 3, time.Hour, 0, testLogger(t))

	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixedNow }

	writeFileWithMtime(t, resultsDir, "just-now.mp4", fixedNow)
	writeFileWithMtime(t, uploadsDir, "just-now.mp3", fixedNow)
	writeFileWithMtime(t, scratchDir, "just-now.tmp", fixedNow)

	resultsDeleted, uploadsDeleted, scratchDeleted, err := c.ForceSweep(0)
	require.NoError(t, err)
	assert.Equal(t, 1, resultsDeleted)
	assert.Equal(t, 1, uploadsDeleted)
	assert.Equal(t, 1, scratchDeleted)
}

func TestSweepDirOnMissingDirectoryIsNotAnError(t *testing.T) {
	c := New("/does/not/exist", "/also/missing", "/also/gone", 3, time.Hour, 0, testLogger(t))
	deleted, err := c.sweepDir("/does/not/exist", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestDirectoryStatsReportsCountsAndSize(t *testing.T) {
	resultsDir := t.TempDir()
	uploadsDir := t.TempDir()
	scratchDir := t.TempDir()
	c := New(resultsDir, uploadsDir, scratchDir, 3, time.Hour, 0, testLogger(t))

	require.NoError(t, os.WriteFile(filepath.Join(resultsDir, "a.mp4"), make([]byte, 1024*1024), 0o644))

	stats := c.DirectoryStats()
	require.Len(t, stats, 3)
	assert.Equal(t, resultsDir, stats[0].Path)
	assert.True(t, stats[0].Exists)
	assert.Equal(t, 1, stats[0].TotalFiles)
	assert.InDelta(t, 1.0, stats[0].TotalSizeMB, 0.01)
	assert.Equal(t, 3, stats[0].TTLHours)
}

func TestStartRunsSweepAfterDelayThenStops(t *testing.T) {
	resultsDir := t.TempDir()
	uploadsDir := t.TempDir()
	scratchDir := t.TempDir()
	c := New(resultsDir, uploadsDir, scratchDir, 0, 10*time.Millisecond, 5*time.Millisecond, testLogger(t))

	fixedNow := time.Now()
	c.now = func() time.Time { return fixedNow }
	writeFileWithMtime(t, resultsDir, "a.mp4", fixedNow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	time.Sleep(40 * time.Millisecond)
	c.Stop()

	_, err := os.Stat(filepath.Join(resultsDir, "a.mp4"))
	assert.True(t, os.IsNotExist(err))
}
