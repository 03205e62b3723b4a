// Package cachetest holds the compliance suite every cache.Cache
// implementation must pass.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/port/cache"
)

// Run runs the standard compliance test suite against c. Implementations
// with asynchronous writes pass settle, which is called after every Set.
func Run(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	if settle == nil {
		settle = func() {}
	}
	ctx := context.Background()
	key := func(s string) string { return cache.SnapshotKey("compliance", s, 1) }

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, key("a"), []byte(`{"agents":[]}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, key("a"))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"agents":[]}` {
			t.Fatalf("got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, key("never-set"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, key("del"), []byte("x"), time.Minute)
		settle()
		if err := c.Delete(ctx, key("del")); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, key("del"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, key("never-existed")); err != nil {
			t.Fatalf("Delete of unknown key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, key("ow"), []byte("v1"), time.Minute)
		settle()
		_ = c.Set(ctx, key("ow"), []byte("v2"), time.Minute)
		settle()
		val, found, err := c.Get(ctx, key("ow"))
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("after overwrite: found=%v val=%s", found, val)
		}
	})
}
