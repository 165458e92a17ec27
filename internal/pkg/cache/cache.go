package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PropNest/internal/pkg/config"
)

// ErrMiss is returned by GetJSON when the key is not cached.
var ErrMiss = errors.New("cache: miss")

// SetupCache creates the Redis client. An unreachable server is logged but
// not fatal; callers treat cache errors as misses.
func SetupCache(cfg config.CacheConfig, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Warn("could not connect to cache", zap.String("addr", cfg.Addr()), zap.Error(err))
	} else {
		log.Info("connected to cache", zap.String("addr", cfg.Addr()), zap.String("pong", pong))
	}
	return client
}

// Store is a namespaced JSON cache on top of a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

// GetJSON decodes the cached value into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// SetJSON stores value encoded as JSON.
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), raw, ttl).Err()
}

// Invalidate removes every key of this store.
func (s *Store) Invalidate(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
