package idempotency

import (
	"context"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
)

// DBBackend keeps entries in the idempotency_records table.
type DBBackend struct {
	repo repository.IdempotencyRepository
	now  func() time.Time
}

func NewDBBackend(repo repository.IdempotencyRepository) *DBBackend {
	return &DBBackend{repo: repo, now: time.Now}
}

func (b *DBBackend) Reserve(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (bool, *Entry, error) {
	now := b.now()
	record := &models.IdempotencyRecord{
		Scope:       scope,
		Key:         key,
		RequestHash: fingerprint,
		State:       models.IdempotencyStateInFlight,
		ExpiresAt:   now.Add(ttl),
	}
	reserved, stored, err := b.repo.Reserve(ctx, record, now)
	if err != nil {
		return false, nil, err
	}
	return reserved, &Entry{
		Fingerprint: stored.RequestHash,
		InFlight:    stored.State == models.IdempotencyStateInFlight,
		StatusCode:  stored.StatusCode,
		Result:      stored.Result,
	}, nil
}

func (b *DBBackend) Complete(ctx context.Context, scope, key string, statusCode int, result []byte, ttl time.Duration) error {
	return b.repo.Complete(ctx, scope, key, statusCode, result, b.now().Add(ttl))
}

func (b *DBBackend) Release(ctx context.Context, scope, key string) error {
	return b.repo.Release(ctx, scope, key)
}

// Purge deletes expired records.
func (b *DBBackend) Purge(ctx context.Context) (int64, error) {
	return b.repo.DeleteExpired(ctx, b.now())
}
