package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager guards resources that only one gateway process may own.
type LockManager interface {
	// Acquire returns the held lock, or ErrLockHeld when another owner holds key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lease.
type Lock interface {
	// Extend pushes the expiry out by ttl. It fails with ErrLockHeld once the
	// lease has been lost to another owner.
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus relays events to other processes: pub/sub for live consumers and
// a bounded stream for catch-up reads.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
