package redis

import (
	"context"
	"time"
)

// Timer keys for the background services. When a key expires, redis
// keyspace notifications wake the tick listener; a poller covers the case
// where notifications are unavailable.
const (
	GrowthTimerKey    = "world:growth:timer"
	ExpansionTimerKey = "world:expansion:timer"
)

// SetTickTimer arms a timer key that expires at the deadline.
func (c *Client) SetTickTimer(ctx context.Context, key string, deadline time.Time) error {
	ttl := time.Until(deadline)
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, key, deadline.Unix(), ttl).Err()
}

// TickTimerArmed reports whether a timer key currently exists.
func (c *Client) TickTimerArmed(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// ClearTickTimer removes a timer key.
func (c *Client) ClearTickTimer(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
