package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/germanamz/sessiond/pkg/config"
)

// ErrRedisUnavailable wraps failures talking to Redis.
var ErrRedisUnavailable = errors.New("store: redis unavailable")

// Redis is a Store keeping every session configuration as a JSON field of
// one hash at <prefix>:sessions.
type Redis struct {
	redis redis.UniversalClient
	key   string
	owned bool
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis store on an existing client. The client is not
// closed by Close.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "sessiond"
	}
	return &Redis{redis: client, key: prefix + ":sessions"}
}

// DialRedis creates a Redis store with its own client built from cfg.
func DialRedis(cfg config.StorageConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	s := NewRedis(client, cfg.RedisPrefix)
	s.owned = true
	return s
}

// Init checks connectivity.
func (r *Redis) Init(ctx context.Context) error {
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (map[string]config.SessionConfig, error) {
	raw, err := r.redis.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make(map[string]config.SessionConfig, len(raw))
	for name, blob := range raw {
		var cfg config.SessionConfig
		if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
			return nil, fmt.Errorf("store: decode session %q: %w", name, err)
		}
		out[name] = cfg
	}
	return out, nil
}

func (r *Redis) Save(ctx context.Context, name string, cfg config.SessionConfig) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: encode session %q: %w", name, err)
	}
	if err := r.redis.HSet(ctx, r.key, name, blob).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	if err := r.redis.HDel(ctx, r.key, name).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Close closes the client if the store created it.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.redis.Close()
}

// Client returns the underlying Redis client.
func (r *Redis) Client() redis.UniversalClient { return r.redis }
