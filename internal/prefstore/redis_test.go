package prefstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prethora/glowly"
)

// fakeRedis is an in-memory cacheClient.
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	down   bool
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

var errRedisDown = errors.New("dial tcp: connection refused")

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStringResult("", errRedisDown)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", errRedisDown)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewIntResult(0, errRedisDown)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	if f.down {
		return redis.NewStatusResult("", errRedisDown)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

// countingStore counts Preferences calls on the backing store.
type countingStore struct {
	Store
	mu    sync.Mutex
	reads int
}

func (c *countingStore) Preferences(ctx context.Context, userID string) (glowly.Preferences, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Store.Preferences(ctx, userID)
}

func (c *countingStore) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func newTestCache(t *testing.T) (*Cache, *fakeRedis, *countingStore) {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	backing := &countingStore{Store: fs}
	rdb := newFakeRedis()
	return newCache(rdb, backing, time.Minute, nil), rdb, backing
}

func TestCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	c, rdb, backing := newTestCache(t)

	if err := c.SetPreferences(ctx, "u1", glowly.Preferences{glowly.EnhancementEyeBrightening: 1.3}); err != nil {
		t.Fatalf("SetPreferences() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := c.Preferences(ctx, "u1")
		if err != nil {
			t.Fatalf("Preferences() error = %v", err)
		}
		if got[glowly.EnhancementEyeBrightening] != 1.3 {
			t.Fatalf("Preferences() = %v", got)
		}
	}

	if n := backing.readCount(); n != 1 {
		t.Errorf("backing reads = %d, want 1", n)
	}
	if ttl := rdb.ttls[cacheKey("u1")]; ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
	if got, want := c.HitRate(), 2.0/3.0; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("HitRate() = %v, want %v", got, want)
	}
}

func TestCacheInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	c, _, backing := newTestCache(t)

	if _, err := c.Preferences(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPreferences(ctx, "u1", glowly.Preferences{glowly.EnhancementTeethWhitening: 0.5}); err != nil {
		t.Fatal(err)
	}

	got, err := c.Preferences(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got[glowly.EnhancementTeethWhitening] != 0.5 {
		t.Errorf("Preferences() after write = %v, want fresh weights", got)
	}
	if n := backing.readCount(); n != 2 {
		t.Errorf("backing reads = %d, want 2", n)
	}
}

func TestCacheDegradesWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	c, rdb, backing := newTestCache(t)
	rdb.down = true

	if err := c.SetPreferences(ctx, "u1", glowly.Preferences{glowly.EnhancementFaceContouring: 1.1}); err != nil {
		t.Fatalf("SetPreferences() with redis down error = %v", err)
	}
	got, err := c.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("Preferences() with redis down error = %v", err)
	}
	if got[glowly.EnhancementFaceContouring] != 1.1 {
		t.Errorf("Preferences() = %v", got)
	}
	if n := backing.readCount(); n != 1 {
		t.Errorf("backing reads = %d, want 1", n)
	}
	if err := c.Health(ctx); err == nil {
		t.Error("Health() should fail while redis is down")
	}
}

func TestCacheCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, rdb, backing := newTestCache(t)
	rdb.data[cacheKey("u1")] = "{oops"

	got, err := c.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("Preferences() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Preferences() = %v, want empty", got)
	}
	if n := backing.readCount(); n != 1 {
		t.Errorf("backing reads = %d, want 1", n)
	}
	if rdb.data[cacheKey("u1")] == "{oops" {
		t.Error("corrupt entry should be replaced")
	}
}

func TestCacheFeedbackPassThrough(t *testing.T) {
	ctx := context.Background()
	c, rdb, _ := newTestCache(t)

	ev := glowly.FeedbackEvent{Enhancement: glowly.EnhancementBlemishRemoval, Satisfaction: 1, RecordedAt: time.Now()}
	if err := c.RecordFeedback(ctx, "u1", ev); err != nil {
		t.Fatal(err)
	}
	got, err := c.Feedback(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Enhancement != glowly.EnhancementBlemishRemoval {
		t.Errorf("Feedback() = %+v", got)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !rdb.closed {
		t.Error("Close() should close the redis client")
	}
}
