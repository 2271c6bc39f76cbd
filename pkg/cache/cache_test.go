package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestCache(ttl time.Duration) (*Cache[string, int], *time.Time) {
	c := New[string, int](ttl)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCacheHitWithinTTL(t *testing.T) {
	c, clock := newTestCache(300 * time.Second)

	c.Put("key", 42)
	*clock = clock.Add(299 * time.Second)

	got, ok := c.Get("key")
	if !ok || got != 42 {
		t.Fatalf("Get = (%d, %v), want (42, true)", got, ok)
	}
}

func TestCacheMissAfterTTL(t *testing.T) {
	c, clock := newTestCache(300 * time.Second)

	c.Put("key", 42)
	*clock = clock.Add(301 * time.Second)

	if _, ok := c.Get("key"); ok {
		t.Fatal("expired entry served")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not dropped on read, len = %d", c.Len())
	}
}

func TestCacheMissUnknownKey(t *testing.T) {
	c, _ := newTestCache(300 * time.Second)
	if _, ok := c.Get("absent"); ok {
		t.Fatal("unknown key reported as hit")
	}
}

func TestCachePutRefreshesTTL(t *testing.T) {
	c, clock := newTestCache(300 * time.Second)

	c.Put("key", 1)
	*clock = clock.Add(200 * time.Second)
	c.Put("key", 2)
	*clock = clock.Add(200 * time.Second)

	got, ok := c.Get("key")
	if !ok || got != 2 {
		t.Fatalf("Get = (%d, %v), want (2, true) after refresh", got, ok)
	}
}

func TestCacheSweepOnWrite(t *testing.T) {
	c, clock := newTestCache(300 * time.Second)

	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("key-%d", i), i)
	}

	// Entries expire, but no write has happened past the sweep interval
	// yet, so they linger.
	*clock = clock.Add(400 * time.Second)
	c.Put("fresh-1", 1)
	if c.Len() != 11 {
		t.Fatalf("len = %d, want 11 before sweep", c.Len())
	}

	// The next write beyond the interval sweeps everything expired.
	*clock = clock.Add(250 * time.Second)
	c.Put("fresh-2", 2)
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2 after sweep", c.Len())
	}
	if _, ok := c.Get("fresh-2"); !ok {
		t.Error("fresh entry swept")
	}
}

func TestCacheDefaultTTL(t *testing.T) {
	c := New[string, int](0)
	if c.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New[int, int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put(base*100+j, j)
				c.Get(base*100 + j)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 800 {
		t.Errorf("len = %d, want 800", c.Len())
	}
}
