// Package cache keeps rendered board listings in Redis between writes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"jobboard/api/internal/board"
)

const keyPrefix = "board:status:"

// storeIfCurrent writes a listing only while the status generation still
// matches the one the reader saw before querying Postgres.
// KEYS: generation key, listing hash. ARGV: generation, limit, JSON, ttl ms.
var storeIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 1
`)

// BoardCache stores one Redis hash per status. Each field is a listing
// limit and holds that listing as JSON, so evicting a status drops every
// cached page of it at once. Every eviction also bumps a per-status
// generation; a listing read before the bump is never stored.
type BoardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBoardCache(redisURL string, ttl time.Duration) (*BoardCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewBoardCacheWithClient(client, ttl), nil
}

func NewBoardCacheWithClient(client *redis.Client, ttl time.Duration) *BoardCache {
	if ttl < 0 {
		ttl = 0
	}
	return &BoardCache{client: client, ttl: ttl}
}

func statusKey(status board.Status) string {
	return keyPrefix + string(status)
}

func generationKey(status board.Status) string {
	return keyPrefix + string(status) + ":gen"
}

// Generation returns the current write generation of status. Read it before
// querying Postgres and hand it to StoreStatus. ok is false when Redis
// cannot be reached, in which case the listing must not be stored.
func (c *BoardCache) Generation(ctx context.Context, status board.Status) (gen int64, ok bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	gen, err := c.client.Get(ctx, generationKey(status)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

// LoadStatus returns a cached listing. Any Redis or decoding failure is a
// miss; a corrupt entry is dropped so the next write repopulates it.
func (c *BoardCache) LoadStatus(ctx context.Context, status board.Status, limit int) ([]board.Item, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.HGet(ctx, statusKey(status), strconv.Itoa(limit)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.client.Del(ctx, statusKey(status)).Err()
		}
		return nil, false
	}
	var items []board.Item
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.client.Del(ctx, statusKey(status)).Err()
		return nil, false
	}
	return items, true
}

// StoreStatus caches a listing read at generation gen. It reports whether
// the listing was stored; a write that evicted the status in the meantime
// makes it a no-op.
func (c *BoardCache) StoreStatus(ctx context.Context, status board.Status, gen int64, limit int, items []board.Item) bool {
	if c == nil || c.client == nil || c.ttl == 0 {
		return false
	}
	data, err := json.Marshal(items)
	if err != nil {
		return false
	}
	stored, err := storeIfCurrent.Run(ctx, c.client,
		[]string{generationKey(status), statusKey(status)},
		strconv.FormatInt(gen, 10), strconv.Itoa(limit), string(data), c.ttl.Milliseconds(),
	).Int()
	return err == nil && stored == 1
}

// EvictStatuses drops every cached listing of the given statuses and bumps
// their generations so in-flight reads cannot put old rows back.
func (c *BoardCache) EvictStatuses(ctx context.Context, statuses ...board.Status) error {
	if c == nil || c.client == nil || len(statuses) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, status := range statuses {
		pipe.Incr(ctx, generationKey(status))
		pipe.Del(ctx, statusKey(status))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("evict board cache: %w", err)
	}
	return nil
}

func (c *BoardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *BoardCache) Close() error {
	return c.client.Close()
}
