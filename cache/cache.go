// Package cache is the short-lived key/value store behind the admin-list
// cache and the report throttle.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns ok=false for a missing or expired key.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
