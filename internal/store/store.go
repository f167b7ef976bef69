// Package store is the Redis cache of immutable chain facts.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/metrics"
)

// RedisCache caches ERC20 decimals per network and asset.
type RedisCache struct {
	redis   *redis.Client
	network string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(addr string, db int, password, network string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, network, ttl, logger), nil
}

// New wraps an existing client. A zero ttl keeps entries forever.
func New(rdb *redis.Client, network string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{redis: rdb, network: network, ttl: ttl, logger: logger}
}

func (s *RedisCache) decimalsKey(asset common.Address) string {
	return "afp:decimals:" + s.network + ":" + strings.ToLower(asset.Hex())
}

// GetDecimals returns the cached decimals of asset. ok is false on a miss.
func (s *RedisCache) GetDecimals(ctx context.Context, asset common.Address) (uint8, bool, error) {
	val, err := s.redis.Get(ctx, s.decimalsKey(asset)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.IncCache("decimals", "miss")
		return 0, false, nil
	}
	if err != nil {
		metrics.IncCache("decimals", "error")
		return 0, false, fmt.Errorf("redis get decimals: %w", err)
	}
	d, err := strconv.ParseUint(val, 10, 8)
	if err != nil {
		metrics.IncCache("decimals", "error")
		s.logger.Warn("store.decimals_corrupt", zap.String("asset", asset.Hex()), zap.String("value", val))
		return 0, false, fmt.Errorf("cached decimals %q: %w", val, err)
	}
	metrics.IncCache("decimals", "hit")
	return uint8(d), true, nil
}

// SetDecimals caches the decimals of asset.
func (s *RedisCache) SetDecimals(ctx context.Context, asset common.Address, decimals uint8) error {
	if err := s.redis.Set(ctx, s.decimalsKey(asset), strconv.Itoa(int(decimals)), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set decimals: %w", err)
	}
	return nil
}

func (s *RedisCache) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisCache) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
