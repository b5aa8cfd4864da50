package uploads

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapipe/pkg/logging"
	"mediapipe/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewFromRedis(rdb)

	logger, err := logging.New("test", &logging.Config{
		Level:        slog.LevelError,
		OutputFormat: "json",
		Output:       os.Stderr,
	})
	require.NoError(t, err)

	return New(s, logger)
}

func TestCreateAndGet(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "sermon.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	id, err := reg.Create(ctx, "sermon.wav", path, 12.34, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, ok, err := reg.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sermon.wav", rec.Filename)
	assert.Equal(t, 0, rec.RefCount)
	assert.Equal(t, "ready", rec.Status)
}

func TestCreateWithSuppliedID(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Create(ctx, "x.mp4", "/disk/uploads/x.mp4", 1, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
}

func TestIncrementDecrementRef(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	id, err := reg.Create(ctx, "in.mp4", path, 1, "")
	require.NoError(t, err)

	require.NoError(t, reg.IncrementRef(ctx, id))
	rec, ok, err := reg.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rec.RefCount)

	require.NoError(t, reg.DecrementRef(ctx, id, false))
	rec, ok, err = reg.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, rec.RefCount)

	// still on disk: auto_delete=false leaves it for the mtime sweep
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestDecrementRefAutoDelete(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	id, err := reg.Create(ctx, "in.mp4", path, 1, "")
	require.NoError(t, err)
	require.NoError(t, reg.IncrementRef(ctx, id))

	require.NoError(t, reg.DecrementRef(ctx, id, true))

	_, ok, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteManualRefusesWhenInUse(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	id, err := reg.Create(ctx, "in.mp4", path, 1, "")
	require.NoError(t, err)
	require.NoError(t, reg.IncrementRef(ctx, id))

	deleted, err := reg.DeleteManual(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, ok, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteManualSucceedsWhenUnreferenced(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	id, err := reg.Create(ctx, "in.mp4", path, 1, "")
	require.NoError(t, err)

	deleted, err := reg.DeleteManual(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListReturnsCreatedRecords(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id1, err := reg.Create(ctx, "a.mp4", "/disk/uploads/a.mp4", 1, "")
	require.NoError(t, err)
	id2, err := reg.Create(ctx, "b.mp4", "/disk/uploads/b.mp4", 1, "")
	require.NoError(t, err)

	records, err := reg.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].UploadID, records[1].UploadID}
	assert.Contains(t, ids, id1)
	assert.Contains(t, ids, id2)
}
