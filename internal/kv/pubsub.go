package kv

import (
	"github.com/redis/go-redis/v9"
)

// Subscription wraps a *redis.PubSub, giving callers a Message channel plus
// an explicit Close, mirroring the subscribe/forward/close shape the
// teacher's in-process bus.Subscription exposed for SSE (internal/gateway/stream.go).
type Subscription struct {
	ps *redis.PubSub
}

func newSubscription(ps *redis.PubSub) *Subscription {
	return &Subscription{ps: ps}
}

// Channel returns the channel of incoming messages. Payload is the raw
// published string (typically JSON).
func (s *Subscription) Channel() <-chan *redis.Message {
	return s.ps.Channel()
}

// Close unsubscribes and releases the connection back to the pool.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
