package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

type redisEntry struct {
	State       string `json:"state"`
	Fingerprint string `json:"fingerprint"`
	StatusCode  int    `json:"status_code,omitempty"`
	Result      []byte `json:"result,omitempty"`
}

const (
	stateInFlight  = "in_flight"
	stateCompleted = "completed"
)

// releaseScript deletes the key only while it is still in flight.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.find(v, '"state":"in_flight"', 1, true) then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisBackend keeps entries in Redis. SETNX provides the atomic reservation
// and key expiry the retention window.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func redisKey(scope, key string) string {
	return redisKeyPrefix + scope + ":" + key
}

func (b *RedisBackend) Reserve(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (bool, *Entry, error) {
	raw, err := json.Marshal(redisEntry{State: stateInFlight, Fingerprint: fingerprint})
	if err != nil {
		return false, nil, err
	}
	k := redisKey(scope, key)
	ok, err := b.client.SetNX(ctx, k, raw, ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, &Entry{Fingerprint: fingerprint, InFlight: true}, nil
	}

	stored, err := b.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return b.Reserve(ctx, scope, key, fingerprint, ttl)
	}
	if err != nil {
		return false, nil, err
	}
	var e redisEntry
	if err := json.Unmarshal(stored, &e); err != nil {
		return false, nil, err
	}
	return false, &Entry{
		Fingerprint: e.Fingerprint,
		InFlight:    e.State == stateInFlight,
		StatusCode:  e.StatusCode,
		Result:      e.Result,
	}, nil
}

func (b *RedisBackend) Complete(ctx context.Context, scope, key string, statusCode int, result []byte, ttl time.Duration) error {
	k := redisKey(scope, key)
	var e redisEntry
	if raw, err := b.client.Get(ctx, k).Bytes(); err == nil {
		_ = json.Unmarshal(raw, &e)
	} else if !errors.Is(err, redis.Nil) {
		return err
	}
	e.State = stateCompleted
	e.StatusCode = statusCode
	e.Result = result
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, k, raw, ttl).Err()
}

func (b *RedisBackend) Release(ctx context.Context, scope, key string) error {
	return releaseScript.Run(ctx, b.client, []string{redisKey(scope, key)}).Err()
}
