package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus implements Bus on top of Redis pub/sub. Redis delivers messages
// from one publisher to a channel in publish order, which is exactly the
// per-sender FIFO guarantee the signaling layer relies on.
type RedisBus struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewRedisBus connects to Redis and validates connectivity via PING
func NewRedisBus(ctx context.Context, addr string, logger zerolog.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(addr)
	var rdb *redis.Client
	if err != nil {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	} else {
		rdb = redis.NewClient(opt)
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().Str("addr", addr).Msg("redis bus connected")
	return &RedisBus{rdb: rdb, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channels...)

	// Force the subscription to be established before returning so a
	// publish immediately after Subscribe is not lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &redisSubscription{
		ps:  ps,
		out: make(chan Message, 256),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Message
}

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for msg := range in {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
