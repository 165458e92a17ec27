package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
)

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := New()

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(repos *repository.Repositories) error {
		require.NoError(t, repos.Coupon.Create(ctx, &models.Coupon{Code: "spring", Kind: models.CouponKindFixed, Value: decimal.NewFromInt(5)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Repos().Coupon.FindByCode(ctx, "SPRING", false)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTransactionCommits(t *testing.T) {
	ctx := context.Background()
	store := New()

	err := store.Transaction(ctx, func(repos *repository.Repositories) error {
		return repos.Coupon.Create(ctx, &models.Coupon{Code: " spring ", Kind: models.CouponKindFixed, Value: decimal.NewFromInt(5)})
	})
	require.NoError(t, err)

	c, err := store.Repos().Coupon.FindByCode(ctx, "Spring", false)
	require.NoError(t, err)
	assert.Equal(t, "SPRING", c.Code)
}

func TestSubscriptionLiveSlotIsUnique(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()

	first := &models.Subscription{UserID: 7, Audience: models.AudienceOwner, Status: models.SubscriptionStatusActive}
	require.NoError(t, repos.Subscription.Create(ctx, first))

	second := &models.Subscription{UserID: 7, Audience: models.AudienceOwner, Status: models.SubscriptionStatusTrialing}
	assert.ErrorIs(t, repos.Subscription.Create(ctx, second), gorm.ErrDuplicatedKey)

	other := &models.Subscription{UserID: 7, Audience: models.AudienceTenant, Status: models.SubscriptionStatusActive}
	assert.NoError(t, repos.Subscription.Create(ctx, other))

	first.Status = models.SubscriptionStatusCanceled
	require.NoError(t, repos.Subscription.Save(ctx, first))
	assert.NoError(t, repos.Subscription.Create(ctx, second))
}

func TestPaymentOpenSlotAndTransition(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()

	p := &models.Payment{InvoiceID: 1, Gateway: "sandbox", GatewayOrderID: "order_1", Status: models.PaymentStatusCreated}
	require.NoError(t, repos.Payment.Create(ctx, p))

	dup := &models.Payment{InvoiceID: 1, Gateway: "sandbox", GatewayOrderID: "order_2", Status: models.PaymentStatusCreated}
	assert.ErrorIs(t, repos.Payment.Create(ctx, dup), gorm.ErrDuplicatedKey)

	now := time.Now()
	p.Status = models.PaymentStatusCaptured
	p.CapturedAt = &now
	ok, err := repos.Payment.Transition(ctx, p, models.PaymentStatusCreated, models.PaymentStatusAuthorized)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Payment.Transition(ctx, p, models.PaymentStatusCreated)
	require.NoError(t, err)
	assert.False(t, ok, "second capture must not match")

	_, err = repos.Payment.FindOpenByInvoice(ctx, 1)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, repos.Payment.Create(ctx, dup))
}

func TestInvoiceNumbersAreUniqueUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := New()

	const workers = 20
	var wg sync.WaitGroup
	values := make(chan uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Transaction(ctx, func(repos *repository.Repositories) error {
				v, err := repos.Invoice.NextNumber(ctx, "invoice")
				if err == nil {
					values <- v
				}
				return err
			})
		}()
	}
	wg.Wait()
	close(values)

	seen := map[uint64]bool{}
	for v := range values {
		assert.False(t, seen[v], "duplicate sequence value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, workers)
}

func TestMarkPaidOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()

	inv := &models.Invoice{InvoiceNo: "INV-202601-000001", Status: models.InvoiceStatusPending}
	require.NoError(t, repos.Invoice.Create(ctx, inv))

	ok, err := repos.Invoice.MarkPaid(ctx, inv.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Invoice.MarkPaid(ctx, inv.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyReserveReplacesExpired(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	now := time.Now()

	rec := &models.IdempotencyRecord{Scope: "s", Key: "k", State: models.IdempotencyStateInFlight, ExpiresAt: now.Add(time.Hour)}
	ok, _, err := repos.Idempotency.Reserve(ctx, rec, now)
	require.NoError(t, err)
	assert.True(t, ok)

	again := &models.IdempotencyRecord{Scope: "s", Key: "k", State: models.IdempotencyStateInFlight, ExpiresAt: now.Add(time.Hour)}
	ok, stored, err := repos.Idempotency.Reserve(ctx, again, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, rec.ID, stored.ID)

	ok, _, err = repos.Idempotency.Reserve(ctx, again, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsageIncrement(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	period := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	total, err := repos.Usage.Increment(ctx, 1, "listings", period, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	total, err = repos.Usage.Increment(ctx, 1, "listings", period, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)

	other, err := repos.Usage.Get(ctx, 1, "listings", period.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Zero(t, other)
}
