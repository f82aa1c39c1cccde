package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the result-cache interface. The pipeline writes through to it on
// successful persistence; it is never authoritative, and implementations
// must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// ResultKey builds the cache key for a document's extraction result.
func ResultKey(documentID string) string {
	return fmt.Sprintf("result:%s", documentID)
}
