package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("token", "abc", 10*time.Millisecond)

	if got, ok := c.Get("token"); !ok || got != "abc" {
		t.Fatalf("expected cached value, got %q ok=%v", got, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("token"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 42, 0)
	if got, ok := c.Get("k"); !ok || got != 42 {
		t.Fatalf("expected persistent entry, got %d ok=%v", got, ok)
	}
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 1, time.Minute)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to be deleted")
	}
}
