package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is the Bus backed by Redis pub/sub, for deployments where the
// dispatcher and the websocket tier run as separate processes. Envelopes are
// JSON on the wire.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger

	mu      sync.Mutex
	pubsubs []*redis.PubSub
	cancel  context.CancelFunc
	ctx     context.Context
	closed  bool
	wg      sync.WaitGroup
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client: client,
		logger: logger.With().Str("component", "bus").Logger(),
		ctx:    runCtx,
		cancel: cancel,
	}, nil
}

// Publish sends the envelope to the topic channel.
func (r *Redis) Publish(ctx context.Context, topic string, env Envelope) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription for the topic and drains it in a
// dedicated goroutine until Close.
func (r *Redis) Subscribe(topic string, h Handler) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	pubsub := r.client.Subscribe(r.ctx, topic)
	r.pubsubs = append(r.pubsubs, pubsub)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Error().Err(err).
						Str("topic", topic).
						Msg("malformed envelope")
					continue
				}
				if err := h(r.ctx, env); err != nil {
					r.logger.Error().Err(err).
						Str("topic", topic).
						Str("message_id", env.ID).
						Str("kind", env.Kind).
						Msg("handler failed")
				}
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

// Close tears down all subscriptions and the client connection.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubsubs := r.pubsubs
	r.mu.Unlock()

	r.cancel()
	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	r.wg.Wait()
	return r.client.Close()
}
