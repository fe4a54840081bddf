package flags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0).
	URL string `mapstructure:"url"`

	// Password overrides any password in URL.
	Password string `mapstructure:"password"`

	// KeyPrefix is prepended to every flag name.
	KeyPrefix string `mapstructure:"key_prefix"`

	// Timeout bounds one flag lookup.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:       "redis://localhost:6379/0",
		KeyPrefix: "cachegpt:flags:",
		Timeout:   250 * time.Millisecond,
	}
}

// Redis reads flags from Redis string keys, falling back to a static
// default when a key is missing or Redis is unreachable.
type Redis struct {
	client   redis.UniversalClient
	cfg      RedisConfig
	defaults Flags
	logger   zerolog.Logger
}

// NewRedis connects to Redis. defaults answers for missing keys and
// failed lookups.
func NewRedis(cfg RedisConfig, defaults Flags, logger zerolog.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	return NewRedisWithClient(redis.NewClient(opt), cfg, defaults, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg RedisConfig, defaults Flags, logger zerolog.Logger) *Redis {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisConfig().Timeout
	}
	if defaults == nil {
		defaults = NewStatic(nil)
	}
	return &Redis{client: client, cfg: cfg, defaults: defaults, logger: logger}
}

// IsEnabled implements Flags.
func (r *Redis) IsEnabled(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return r.defaults.IsEnabled(ctx, name)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("flag", name).Msg("flag lookup failed, using default")
		return r.defaults.IsEnabled(ctx, name)
	}
	return parseBool(val)
}

// Set writes a flag value.
func (r *Redis) Set(ctx context.Context, name string, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	if err := r.client.Set(ctx, r.key(name), v, 0).Err(); err != nil {
		return fmt.Errorf("set flag %s: %w", name, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(name string) string {
	return r.cfg.KeyPrefix + normalize(name)
}
