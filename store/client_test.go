package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromRedis(rdb)
}

func TestSetGet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "key1", "value1"))
	val, ok, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value1", val)
}

func TestSetWithTTLAndPersist(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "upload:1", "{}", 10800))
	require.NoError(t, c.Persist(ctx, "upload:1"))

	val, ok, err := c.Get(ctx, "upload:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{}", val)
}

func TestDel(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", "value1"))
	require.NoError(t, c.Del(ctx, "key1"))

	_, ok, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	require.NoError(t, c.Del(ctx, "never-existed"))
}

func TestZAddZPopMinOrdering(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "job_queue", 100000005, "job-low"))
	require.NoError(t, c.ZAdd(ctx, "job_queue", 10000001, "job-high"))
	require.NoError(t, c.ZAdd(ctx, "job_queue", 50000003, "job-mid"))

	first, ok, err := c.ZPopMin(ctx, "job_queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-high", first)

	second, ok, err := c.ZPopMin(ctx, "job_queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-mid", second)

	third, ok, err := c.ZPopMin(ctx, "job_queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-low", third)

	_, ok, err = c.ZPopMin(ctx, "job_queue")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZRangeAscAndZRevRange(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "idx", 1, "a"))
	require.NoError(t, c.ZAdd(ctx, "idx", 2, "b"))
	require.NoError(t, c.ZAdd(ctx, "idx", 3, "c"))

	asc, err := c.ZRangeAsc(ctx, "idx", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, asc)

	desc, err := c.ZRevRange(ctx, "idx", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, desc)
}

func TestZRemAndZCard(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "idx", 1, "a"))
	require.NoError(t, c.ZAdd(ctx, "idx", 2, "b"))

	count, err := c.ZCard(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, c.ZRem(ctx, "idx", "a"))
	count, err = c.ZCard(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSetOperations(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "processing_jobs", "job-1"))
	count, err := c.SCard(ctx, "processing_jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, c.SRem(ctx, "processing_jobs", "job-1"))
	count, err = c.SCard(ctx, "processing_jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
