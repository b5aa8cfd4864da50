// Package store wraps the key-value primitives the rest of this codebase
// builds its data model on: plain string records with TTLs, and sorted
// sets used as priority queues and time-ordered indices.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mediapipe/config"
)

// Client is a thin wrapper around *redis.Client exposing exactly the
// operations the upload registry and job queue need: set/get/del with TTL,
// and sorted-set membership. Keeping the surface narrow means `uploads` and
// `jobs` never reach past this package into redis-specific types.
type Client struct {
	rdb *redis.Client
}

func New(cfg *config.Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{rdb: rdb}
}

// NewFromRedis wraps an already-constructed redis client, used by tests to
// point the store at a miniredis instance.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Set writes a string value with no expiry.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// SetWithTTL writes a string value and attaches an expiry.
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error {
	return c.rdb.Set(ctx, key, value, time.Duration(ttlSeconds)*time.Second).Err()
}

// Get returns (value, true, nil) on a hit, ("", false, nil) on a miss.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return val, true, nil
}

// Del removes a key. Deleting an absent key is not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Expire attaches a TTL to an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttlSeconds int64) error {
	return c.rdb.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second).Err()
}

// Persist clears any TTL on a key, making it live forever until deleted.
func (c *Client) Persist(ctx context.Context, key string) error {
	return c.rdb.Persist(ctx, key).Err()
}

// ZAdd inserts or updates a member's score in a sorted set.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRem removes members from a sorted set.
func (c *Client) ZRem(ctx context.Context, key string, members ...string) error {
	return c.rdb.ZRem(ctx, key, toInterfaceSlice(members)...).Err()
}

// ZPopMin atomically removes and returns the lowest-scored member, or
// ("", false, nil) if the set is empty. This is the primitive the job
// queue's pop_next is built on.
func (c *Client) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	results, err := c.rdb.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("store: zpopmin %s: %w", key, err)
	}
	if len(results) == 0 {
		return "", false, nil
	}
	member, ok := results[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("store: zpopmin %s: non-string member", key)
	}
	return member, true, nil
}

// ZRangeAsc returns up to `limit` members ordered by ascending score,
// starting at offset 0. Used for listing pending jobs.
func (c *Client) ZRangeAsc(ctx context.Context, key string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = -1
	} else {
		limit--
	}
	return c.rdb.ZRange(ctx, key, 0, limit).Result()
}

// ZRevRange returns up to `limit` members ordered by descending score.
// Used for listing the uploads index.
func (c *Client) ZRevRange(ctx context.Context, key string, limit int64) ([]string, error) {
	var stop int64 = -1
	if limit > 0 {
		stop = limit - 1
	}
	return c.rdb.ZRevRange(ctx, key, 0, stop).Result()
}

// ZCard returns the cardinality of a sorted set. Plain sets use SCard.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

// SAdd adds members to a plain set.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	return c.rdb.SAdd(ctx, key, toInterfaceSlice(members)...).Err()
}

// SRem removes members from a plain set.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	return c.rdb.SRem(ctx, key, toInterfaceSlice(members)...).Err()
}

// SCard returns the cardinality of a plain set.
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.SCard(ctx, key).Result()
}

// SMembers returns all members of a plain set, used by startup reconciliation
// to scan the processing_jobs set for jobs orphaned by a worker crash.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

// ZScore returns a member's score, or (0, false, nil) if absent.
func (c *Client) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := c.rdb.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: zscore %s: %w", key, err)
	}
	return score, true, nil
}

func toInterfaceSlice(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
