package anchors

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia/internal/document"
)

// PollLock keeps overlapping poller invocations from double-polling the same
// network. Backed by a Redis SET NX key with a TTL; without Redis it degrades
// to unlocked polling, which is safe because confirmation appends are
// idempotent.
type PollLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPollLock(client *redis.Client, ttl time.Duration) *PollLock {
	return &PollLock{client: client, ttl: ttl}
}

// Acquire takes the per-network lock. The returned release function is safe
// to call even when acquisition was skipped.
func (l *PollLock) Acquire(ctx context.Context, network document.Network) (release func(), acquired bool) {
	if l == nil || l.client == nil {
		return func() {}, true
	}
	key := "anchors:poll:" + string(network)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		// Redis trouble must not stop confirmations.
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}
	return func() {
		_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
	}, true
}
