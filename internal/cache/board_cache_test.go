package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"jobboard/api/internal/board"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*BoardCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := NewBoardCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewBoardCache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func sampleItems() []board.Item {
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	return []board.Item{
		{ID: "job_a", Status: board.StatusAccepted, Priority: 600, Name: "Gate", CreatedAt: created, UpdatedAt: created},
		{ID: "job_b", Status: board.StatusAccepted, Priority: 400, Name: "Fence", CreatedAt: created, UpdatedAt: created},
	}
}

func TestBoardCacheMissThenHit(t *testing.T) {
	c, s := setupTestCache(t, time.Minute)
	ctx := context.Background()

	if _, ok := c.LoadStatus(ctx, board.StatusAccepted, 200); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.StoreStatus(ctx, board.StatusAccepted, 0, 200, sampleItems())

	got, ok := c.LoadStatus(ctx, board.StatusAccepted, 200)
	if !ok {
		t.Fatal("expected hit after store")
	}
	if !reflect.DeepEqual(got, sampleItems()) {
		t.Fatalf("cached items = %#v", got)
	}
	if _, ok := c.LoadStatus(ctx, board.StatusAccepted, 50); ok {
		t.Fatal("different limit must miss")
	}
	if ttl := s.TTL("board:status:accepted"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestBoardCacheEvictDropsEveryLimit(t *testing.T) {
	c, s := setupTestCache(t, time.Minute)
	ctx := context.Background()

	c.StoreStatus(ctx, board.StatusAccepted, 0, 200, sampleItems())
	c.StoreStatus(ctx, board.StatusAccepted, 0, 10, sampleItems()[:1])
	c.StoreStatus(ctx, board.StatusQuoting, 0, 200, nil)

	if err := c.EvictStatuses(ctx, board.StatusAccepted); err != nil {
		t.Fatalf("EvictStatuses: %v", err)
	}
	if s.Exists("board:status:accepted") {
		t.Fatal("accepted listing survived eviction")
	}
	if !s.Exists("board:status:quoting") {
		t.Fatal("unrelated status was evicted")
	}
}

func TestBoardCacheStoreAfterEvictionIsRejected(t *testing.T) {
	c, s := setupTestCache(t, time.Minute)
	ctx := context.Background()

	gen, ok := c.Generation(ctx, board.StatusAccepted)
	if !ok || gen != 0 {
		t.Fatalf("initial generation = %d, %v", gen, ok)
	}

	// A write commits and evicts while the reader is still querying.
	if err := c.EvictStatuses(ctx, board.StatusAccepted); err != nil {
		t.Fatalf("EvictStatuses: %v", err)
	}
	if c.StoreStatus(ctx, board.StatusAccepted, gen, 200, sampleItems()) {
		t.Fatal("listing read before the eviction was stored")
	}
	if s.Exists("board:status:accepted") {
		t.Fatal("stale listing reached redis")
	}

	fresh, ok := c.Generation(ctx, board.StatusAccepted)
	if !ok || fresh != 1 {
		t.Fatalf("generation after eviction = %d, %v", fresh, ok)
	}
	if !c.StoreStatus(ctx, board.StatusAccepted, fresh, 200, sampleItems()) {
		t.Fatal("listing at the current generation was not stored")
	}
	if _, ok := c.LoadStatus(ctx, board.StatusAccepted, 200); !ok {
		t.Fatal("expected hit at current generation")
	}
}

func TestBoardCacheCorruptEntryIsDropped(t *testing.T) {
	c, s := setupTestCache(t, time.Minute)
	ctx := context.Background()

	s.HSet("board:status:quoting", "200", "{not json")
	if _, ok := c.LoadStatus(ctx, board.StatusQuoting, 200); ok {
		t.Fatal("corrupt entry returned as hit")
	}
	if s.Exists("board:status:quoting") {
		t.Fatal("corrupt entry not removed")
	}
}

func TestBoardCacheZeroTTLDisablesStore(t *testing.T) {
	c, s := setupTestCache(t, 0)
	c.StoreStatus(context.Background(), board.StatusQuoting, 0, 200, sampleItems())
	if s.Exists("board:status:quoting") {
		t.Fatal("zero TTL should not store")
	}
}

func TestNilBoardCacheIsNoop(t *testing.T) {
	var c *BoardCache
	ctx := context.Background()
	if _, ok := c.LoadStatus(ctx, board.StatusQuoting, 1); ok {
		t.Fatal("nil cache hit")
	}
	c.StoreStatus(ctx, board.StatusQuoting, 0, 1, nil)
	if _, ok := c.Generation(ctx, board.StatusQuoting); ok {
		t.Fatal("nil cache reported a generation")
	}
	if err := c.EvictStatuses(ctx, board.StatusQuoting); err != nil {
		t.Fatal(err)
	}
}

func TestNewBoardCacheWithClient(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	c := NewBoardCacheWithClient(client, -time.Second)
	defer c.Close()
	if c.ttl != 0 {
		t.Fatalf("negative ttl not clamped: %v", c.ttl)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
