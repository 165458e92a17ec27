// Package memory implements the repository interfaces in process. It backs
// DB_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
)

type state struct {
	seq         map[string]uint
	plans       map[uint]models.Plan
	coupons     map[uint]models.Coupon
	redemptions []models.CouponRedemption
	subs        map[uint]models.Subscription
	invoices    map[uint]models.Invoice
	sequences   map[string]uint64
	payments    map[uint]models.Payment
	events      map[uint]models.WebhookEvent
	idempotency map[string]models.IdempotencyRecord
	usage       map[string]models.UsageCounter
}

func newState() *state {
	return &state{
		seq:         make(map[string]uint),
		plans:       make(map[uint]models.Plan),
		coupons:     make(map[uint]models.Coupon),
		subs:        make(map[uint]models.Subscription),
		invoices:    make(map[uint]models.Invoice),
		sequences:   make(map[string]uint64),
		payments:    make(map[uint]models.Payment),
		events:      make(map[uint]models.WebhookEvent),
		idempotency: make(map[string]models.IdempotencyRecord),
		usage:       make(map[string]models.UsageCounter),
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each map is a consistent snapshot.
func (st *state) clone() *state {
	return &state{
		seq:         maps.Clone(st.seq),
		plans:       maps.Clone(st.plans),
		coupons:     maps.Clone(st.coupons),
		redemptions: slices.Clone(st.redemptions),
		subs:        maps.Clone(st.subs),
		invoices:    maps.Clone(st.invoices),
		sequences:   maps.Clone(st.sequences),
		payments:    maps.Clone(st.payments),
		events:      maps.Clone(st.events),
		idempotency: maps.Clone(st.idempotency),
		usage:       maps.Clone(st.usage),
	}
}

func (st *state) nextID(table string) uint {
	st.seq[table]++
	return st.seq[table]
}

// Store is an in-process repository.Store. Transactions are serialized and
// roll back by restoring a snapshot taken when they start.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	now  func() time.Time

	repos   *repository.Repositories
	txRepos *repository.Repositories
}

// New creates an empty store.
func New() *Store {
	s := &Store{st: newState(), now: time.Now}
	s.repos = s.bind(false)
	s.txRepos = s.bind(true)
	return s
}

func (s *Store) bind(inTx bool) *repository.Repositories {
	b := base{s: s, inTx: inTx}
	return &repository.Repositories{
		Plan:         &planRepo{b},
		Coupon:       &couponRepo{b},
		Subscription: &subscriptionRepo{b},
		Invoice:      &invoiceRepo{b},
		Payment:      &paymentRepo{b},
		WebhookEvent: &webhookEventRepo{b},
		Idempotency:  &idempotencyRepo{b},
		Usage:        &usageRepo{b},
	}
}

func (s *Store) Repos() *repository.Repositories {
	return s.repos
}

func (s *Store) Transaction(ctx context.Context, fn func(repos *repository.Repositories) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
	}

	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err = fn(s.txRepos); err != nil {
		rollback()
		return err
	}
	return nil
}

type base struct {
	s    *Store
	inTx bool
}

// lock takes the data lock. Calls outside a transaction also wait for a
// running transaction so a rollback cannot discard their writes.
func (b base) lock() func() {
	if !b.inTx {
		b.s.txMu.Lock()
	}
	b.s.mu.Lock()
	return func() {
		b.s.mu.Unlock()
		if !b.inTx {
			b.s.txMu.Unlock()
		}
	}
}

func (b base) state() *state { return b.s.st }

func (b base) now() time.Time { return b.s.now() }

func idempotencyKey(scope, key string) string {
	return scope + "\x00" + key
}

func usageKey(subscriptionID uint, metric string, periodStart time.Time) string {
	return fmt.Sprintf("%d\x00%s\x00%d", subscriptionID, metric, periodStart.UnixNano())
}
