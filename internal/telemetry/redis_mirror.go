package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
)

// RedisConfig configures the optional Redis mirror, grounded on the
// teacher's RedisExecutor (pkg/nodes/database/redis.go). kilnd's go.mod
// already pins github.com/go-redis/redis/v8 for an earlier build, so this
// sink targets v8 rather than the teacher's own v9 import.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSink publishes every bus event as a JSON message on a single Redis
// pub/sub channel, for a remote dashboard or another service to subscribe
// to. Unlike RedisExecutor's generic get/set/incr command dispatch, this
// sink only ever does PUBLISH: there's no read path in the control loop.
type RedisSink struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisSink creates a RedisSink and opens its connection.
func NewRedisSink(cfg RedisConfig) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisSink{cfg: cfg, client: client}
}

func (s *RedisSink) Name() string { return "redis" }

// Dispatch publishes ev as a JSON envelope on the configured channel.
func (s *RedisSink) Dispatch(ctx context.Context, ev eventbus.Event) error {
	body, err := json.Marshal(struct {
		Kind    string      `json:"kind"`
		Payload interface{} `json:"payload"`
	}{Kind: string(ev.Kind), Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := s.client.Publish(ctx, s.cfg.Channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.cfg.Channel, err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
