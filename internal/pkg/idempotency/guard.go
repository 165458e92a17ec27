// Package idempotency deduplicates client retries of mutating requests.
//
// A request first reserves its (scope, key) pair. The reservation is in
// flight until the protected operation either stores its result or releases
// the reservation after a failure. Later requests with the same pair get the
// stored result back, racers get ErrIdempotencyInProgress, and a reuse of the
// key with a different request body gets ErrIdempotencyKeyReused.
package idempotency

import (
	"context"
	"time"

	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
)

const (
	DefaultTTL         = 24 * time.Hour
	DefaultInFlightTTL = 2 * time.Minute
)

// Entry is what a backend holds for one (scope, key).
type Entry struct {
	Fingerprint string
	InFlight    bool
	StatusCode  int
	Result      []byte
}

// Backend persists entries. Reserve must be atomic: of two concurrent calls
// for the same pair exactly one may return reserved=true.
type Backend interface {
	Reserve(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (reserved bool, existing *Entry, err error)
	Complete(ctx context.Context, scope, key string, statusCode int, result []byte, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
}

// Purger is implemented by backends whose entries do not expire on their own.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Result is a previously stored outcome.
type Result struct {
	StatusCode int
	Body       []byte
}

type Guard struct {
	backend     Backend
	ttl         time.Duration
	inFlightTTL time.Duration
}

type Option func(*Guard)

func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.ttl = ttl }
}

// WithInFlightTTL bounds how long a crashed request can block its key.
func WithInFlightTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.inFlightTTL = ttl }
}

func NewGuard(backend Backend, opts ...Option) *Guard {
	g := &Guard{backend: backend, ttl: DefaultTTL, inFlightTTL: DefaultInFlightTTL}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckOrReserve returns the stored result for (key, scope) if there is one.
// A nil result with a nil error means the caller now holds the reservation and
// must call Store or Release.
func (g *Guard) CheckOrReserve(ctx context.Context, key, scope, fingerprint string) (*Result, error) {
	reserved, existing, err := g.backend.Reserve(ctx, scope, key, fingerprint, g.inFlightTTL)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if reserved {
		return nil, nil
	}
	if existing.Fingerprint != "" && fingerprint != "" && existing.Fingerprint != fingerprint {
		return nil, apperror.ErrIdempotencyKeyReused
	}
	if existing.InFlight {
		return nil, apperror.ErrIdempotencyInProgress
	}
	return &Result{StatusCode: existing.StatusCode, Body: existing.Result}, nil
}

// Store fills the reservation with the outcome of the protected operation and
// keeps it for the retention window.
func (g *Guard) Store(ctx context.Context, key, scope string, statusCode int, body []byte) error {
	return g.backend.Complete(ctx, scope, key, statusCode, body, g.ttl)
}

// Release drops an in-flight reservation so the client can retry.
func (g *Guard) Release(ctx context.Context, key, scope string) error {
	return g.backend.Release(ctx, scope, key)
}

// Purge deletes expired entries. Backends with native expiry have nothing to
// purge and report zero.
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	p, ok := g.backend.(Purger)
	if !ok {
		return 0, nil
	}
	return p.Purge(ctx)
}
