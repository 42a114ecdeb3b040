package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	redisrepo "github.com/freeeve/hexhold/api/internal/repository/redis"
)

// TickListener drives the growth and expansion services. It listens for
// Redis keyspace notifications on the expired tick timer keys and falls
// back to polling so ticks still run when notifications are unavailable.
type TickListener struct {
	cache     *redisrepo.Client
	growth    *GrowthService
	expansion *ExpansionService
}

// NewTickListener creates a TickListener.
func NewTickListener(cache *redisrepo.Client, growth *GrowthService, expansion *ExpansionService) *TickListener {
	return &TickListener{cache: cache, growth: growth, expansion: expansion}
}

// Start catches up any ticks missed while the server was down, arms the
// timers, and blocks on the polling fallback until ctx is cancelled.
func (t *TickListener) Start(ctx context.Context) {
	t.runDueTicks(ctx)
	go t.listenKeyspace(ctx)
	t.poll(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (t *TickListener) listenKeyspace(ctx context.Context) {
	pubsub := t.cache.Underlying().PSubscribe(ctx, "__keyevent@0__:expired")
	defer pubsub.Close()

	log.Info().Msg("Tick listener started, listening for expired timer keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload == redisrepo.GrowthTimerKey || msg.Payload == redisrepo.ExpansionTimerKey {
				t.runDueTicks(ctx)
			}
		}
	}
}

// poll periodically runs any due ticks as a fallback for lost notifications.
func (t *TickListener) poll(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	log.Info().Msg("Tick poller started (1m interval)")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Tick poller stopped")
			return
		case <-ticker.C:
			t.runDueTicks(ctx)
		}
	}
}

// runDueTicks applies every elapsed growth and expansion tick, then re-arms
// the timer keys for the next deadlines.
func (t *TickListener) runDueTicks(ctx context.Context) {
	now := time.Now()

	if _, err := t.growth.RunDue(ctx, now); err != nil {
		log.Error().Err(err).Msg("Growth tick failed")
	}
	if _, err := t.expansion.RunDue(ctx, now); err != nil {
		log.Error().Err(err).Msg("Expansion tick failed")
	}

	t.armTimer(ctx, redisrepo.GrowthTimerKey, t.growth.NextTick)
	t.armTimer(ctx, redisrepo.ExpansionTimerKey, t.expansion.NextTick)
}

func (t *TickListener) armTimer(ctx context.Context, key string, next func(context.Context) (time.Time, error)) {
	deadline, err := next(ctx)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to compute next tick")
		return
	}
	if err := t.cache.SetTickTimer(ctx, key, deadline); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to arm tick timer")
	}
}
