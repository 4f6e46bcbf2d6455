package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBridge relays probe results between instances via Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	target     Target
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

var _ Bridge = (*RedisBridge)(nil)

// NewRedisBridge creates a bridge. target may be nil for publish-only use.
func NewRedisBridge(cfg *RedisConfig, target Target, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    cfg.Channel(),
		instanceID: uuid.New().String(),
		target:     target,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start pings Redis and, when a target is set, subscribes to the results channel.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	if b.target != nil {
		sub := b.client.Subscribe(b.ctx, b.channel)

		// Wait for subscription confirmation.
		if _, err := sub.Receive(b.ctx); err != nil {
			_ = sub.Close()
			return fmt.Errorf("redis subscribe: %w", err)
		}
		b.wg.Add(1)
		go b.listen(sub)
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// PublishResult sends one scenario result.
func (b *RedisBridge) PublishResult(ctx context.Context, runID string, res types.ScenarioResult) error {
	return b.publish(ctx, Envelope{Kind: KindResult, RunID: runID, Result: &res})
}

// PublishSummary sends a finished run.
func (b *RedisBridge) PublishSummary(ctx context.Context, summary types.RunSummary) error {
	return b.publish(ctx, Envelope{Kind: KindSummary, RunID: summary.RunID, Summary: &summary})
}

func (b *RedisBridge) publish(ctx context.Context, env Envelope) error {
	if !b.Available() {
		return fmt.Errorf("redis bridge not started")
	}
	data, err := b.encode(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBridge) encode(env Envelope) ([]byte, error) {
	env.InstanceID = b.instanceID
	env.SentAt = time.Now()
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// listen reads messages from the Redis subscription and forwards them to the target.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRedisMessage(msg.Payload)
		case <-b.ctx.Done():
			return
		}
	}
}

// handleRedisMessage decodes an envelope and forwards non-self messages to the target.
func (b *RedisBridge) handleRedisMessage(payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip messages that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("kind", string(env.Kind)).
		Str("run_id", env.RunID).
		Msg("relaying message from redis")

	b.target.Receive(env)
}
