package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropNest/app/repository/memory"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
)

type backendFactory func(t *testing.T) Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"db": func(t *testing.T) Backend {
			return NewDBBackend(memory.New().Repos().Idempotency)
		},
		"redis": func(t *testing.T) Backend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisBackend(client)
		},
	}
}

func TestGuardLifecycle(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := NewGuard(newBackend(t))

			prior, err := g.CheckOrReserve(ctx, "key-1", "user:1:subscribe", "fp-a")
			require.NoError(t, err)
			assert.Nil(t, prior, "first request holds the reservation")

			_, err = g.CheckOrReserve(ctx, "key-1", "user:1:subscribe", "fp-a")
			assert.ErrorIs(t, err, apperror.ErrIdempotencyInProgress)

			body := []byte(`{"subscription":{"id":1}}`)
			require.NoError(t, g.Store(ctx, "key-1", "user:1:subscribe", 201, body))

			prior, err = g.CheckOrReserve(ctx, "key-1", "user:1:subscribe", "fp-a")
			require.NoError(t, err)
			require.NotNil(t, prior)
			assert.Equal(t, 201, prior.StatusCode)
			assert.Equal(t, body, prior.Body)

			_, err = g.CheckOrReserve(ctx, "key-1", "user:1:subscribe", "fp-b")
			assert.ErrorIs(t, err, apperror.ErrIdempotencyKeyReused)

			prior, err = g.CheckOrReserve(ctx, "key-1", "user:2:subscribe", "fp-a")
			require.NoError(t, err)
			assert.Nil(t, prior, "scopes are independent")
		})
	}
}

func TestGuardReleaseAllowsRetry(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := NewGuard(newBackend(t))

			_, err := g.CheckOrReserve(ctx, "k", "s", "fp")
			require.NoError(t, err)
			require.NoError(t, g.Release(ctx, "k", "s"))

			prior, err := g.CheckOrReserve(ctx, "k", "s", "fp")
			require.NoError(t, err)
			assert.Nil(t, prior)

			require.NoError(t, g.Store(ctx, "k", "s", 200, []byte(`{}`)))
			require.NoError(t, g.Release(ctx, "k", "s"), "release of a completed entry is a no-op")

			prior, err = g.CheckOrReserve(ctx, "k", "s", "fp")
			require.NoError(t, err)
			assert.NotNil(t, prior)
		})
	}
}

func TestGuardConcurrentFirstAttempts(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := NewGuard(newBackend(t))

			const n = 16
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				reserved int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					prior, err := g.CheckOrReserve(ctx, "race", "s", "fp")
					if err == nil && prior == nil {
						mu.Lock()
						reserved++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, reserved, "exactly one request may execute")
		})
	}
}

func TestRedisBackendExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := NewGuard(NewRedisBackend(client), WithTTL(time.Hour), WithInFlightTTL(time.Minute))

	_, err := g.CheckOrReserve(ctx, "k", "s", "fp")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	prior, err := g.CheckOrReserve(ctx, "k", "s", "fp")
	require.NoError(t, err)
	assert.Nil(t, prior, "a stale reservation does not block forever")

	require.NoError(t, g.Store(ctx, "k", "s", 201, []byte(`{"ok":true}`)))
	mr.FastForward(30 * time.Minute)
	prior, err = g.CheckOrReserve(ctx, "k", "s", "fp")
	require.NoError(t, err)
	require.NotNil(t, prior)

	mr.FastForward(time.Hour)
	prior, err = g.CheckOrReserve(ctx, "k", "s", "fp")
	require.NoError(t, err)
	assert.Nil(t, prior, "the key can be reused after retention")
}

func TestDBBackendPurge(t *testing.T) {
	ctx := context.Background()
	b := NewDBBackend(memory.New().Repos().Idempotency)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	g := NewGuard(b)
	_, err := g.CheckOrReserve(ctx, "k", "s", "fp")
	require.NoError(t, err)
	require.NoError(t, g.Store(ctx, "k", "s", 201, []byte(`{}`)))

	now = now.Add(25 * time.Hour)
	n, err := g.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = g.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisBackendHasNothingToPurge(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewGuard(NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	n, err := g.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
