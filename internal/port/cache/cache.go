// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SnapshotKey names a cached projection. Keys embed the world version, so a
// mutation makes every older entry unreachable instead of stale.
func SnapshotKey(kind, id string, version uint64) string {
	if id == "" {
		return fmt.Sprintf("%s.v%d", kind, version)
	}
	return fmt.Sprintf("%s.%s.v%d", kind, id, version)
}
