package cache_test

import (
	"testing"
	"time"

	"github.com/tasknest/go-mail/cache"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := cache.NewMemoryCache(4)

	c.Set("a", "alpha", 0)
	got, ok := c.Get("a")
	if !ok || got != "alpha" {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("unexpected hit for an unknown key")
	}

	c.Set("a", "updated", 0)
	got, _ = c.Get("a")
	if got != "updated" {
		t.Errorf("Get(a) after update = %v", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := cache.NewMemoryCache(4)

	c.Set("short", "value", 10*time.Millisecond)
	if _, ok := c.Get("short"); !ok {
		t.Fatal("entry expired immediately")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after lazy expiry, want 0", c.Len())
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := cache.NewMemoryCache(2)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Get(a) missed")
	}

	c.Set("c", 3, 0)
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry was not evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("new entry missing")
	}
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	c := cache.NewMemoryCache(4)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	c.Delete("a") // deleting twice is harmless

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("entry survived Clear")
	}
}

func TestMemoryCache_ZeroCapacityFallback(t *testing.T) {
	c := cache.NewMemoryCache(0)
	for i := 0; i < 10; i++ {
		c.Set(string(rune('a'+i)), i, 0)
	}
	if c.Len() != 10 {
		t.Errorf("Len = %d, want 10", c.Len())
	}
}
