package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homerules/internal/utils"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "device:"

// NewRedisClient creates a Redis client
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// StateKey is the cache key of a device's last state
func StateKey(deviceID string) string {
	return keyPrefix + deviceID
}

// StateCache keeps the last reported state of every device so a restart can start warm
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStateCache wraps client; a zero ttl uses utils.StateTTL
func NewStateCache(client *redis.Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = utils.StateTTL
	}
	return &StateCache{client: client, ttl: ttl, logger: utils.Component("REDIS")}
}

// Save stores a device state
func (c *StateCache) Save(ctx context.Context, deviceID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state of %s: %w", deviceID, err)
	}
	return c.client.Set(ctx, StateKey(deviceID), raw, c.ttl).Err()
}

// Load returns a device's cached state, or nil when none is cached
func (c *StateCache) Load(ctx context.Context, deviceID string) (map[string]any, error) {
	raw, err := c.client.Get(ctx, StateKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state of %s: %w", deviceID, err)
	}
	return state, nil
}

// LoadAll returns every cached state keyed by device id
func (c *StateCache) LoadAll(ctx context.Context) (map[string]map[string]any, error) {
	rslt := make(map[string]map[string]any)
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), keyPrefix)
		state, err := c.Load(ctx, id)
		if err != nil {
			c.logger.Warn().Err(err).Str("device", id).Msg("skipping cached state")
			continue
		}
		if state != nil {
			rslt[id] = state
		}
	}
	return rslt, iter.Err()
}

// Close closes the underlying client
func (c *StateCache) Close() error {
	return c.client.Close()
}
