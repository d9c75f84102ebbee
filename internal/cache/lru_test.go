package cache

import (
	"strings"
	"testing"
	"time"
)

func TestLRUCacheGetSet(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache must miss")
	}

	c.Set("a", "1")
	c.Set("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	// "a" was just used; adding a third entry evicts "b".
	c.Set("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Fatal("least recently used entry must be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("recently used entry must survive eviction")
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
}

func TestLRUCacheTTL(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)
	c.Set("k", 42)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry must hit")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry must miss")
	}
}

func TestLRUCacheDeleteFunc(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	c.Set("2025-01-01_2025-01-05", "a")
	c.Set("2025-01-05_2025-01-10", "b")
	c.Set("2025-02-01_2025-02-05", "c")

	n := c.DeleteFunc(func(key string) bool {
		return strings.Contains(key, "2025-01-05")
	})
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if _, ok := c.Get("2025-02-01_2025-02-05"); !ok {
		t.Fatal("unmatched entry must survive")
	}
}

func TestLRUCacheCleanExpired(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)
	c.Set("a", 1)
	c.Set("b", 2)

	time.Sleep(20 * time.Millisecond)
	c.Set("c", 3)

	if n := c.CleanExpired(); n != 2 {
		t.Fatalf("cleaned %d, want 2", n)
	}
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
}
