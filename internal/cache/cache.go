// Package cache provides the injected cache abstraction used by the
// services. Two interchangeable backends exist: an in-process TTL map
// and a MongoDB collection with a TTL index. The backend is chosen by
// configuration and handed to the container; nothing in the codebase
// reaches for a package-level singleton.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key with the given prefix. Write
	// paths use it to invalidate whole families of derived entries
	// (event lists, search pages) in one call.
	DeletePattern(ctx context.Context, prefix string) error
}

// Key builders keep the services agreed on naming.

func EventKey(id string) string {
	return "events:id:" + id
}

func EventListKey(fingerprint string) string {
	return "events:list:" + fingerprint
}

const (
	EventKeyPrefix     = "events:"
	EventListKeyPrefix = "events:list:"
)
