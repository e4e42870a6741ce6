package domain

import (
	"context"
	"time"
)

// OpinionCache is a read-through cache for opinion snapshots.
type OpinionCache interface {
	Get(ctx context.Context, id uint64) (Opinion, error)
	Set(ctx context.Context, o Opinion) error
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter applies a sliding-window limit keyed by an arbitrary string
// (typically a client IP or account).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locks. The engine uses one long-lived
// writer lock so exactly one instance applies transitions at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus publishes committed engine events to interested consumers
// (websocket hub, notifiers, external indexers).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// StreamMessage is one durable entry read back from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}
