package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository/memory"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/catalog"
	"github.com/ManuelReschke/PropNest/internal/pkg/config"
	"github.com/ManuelReschke/PropNest/internal/pkg/coupon"
	"github.com/ManuelReschke/PropNest/internal/pkg/gateway"
	"github.com/ManuelReschke/PropNest/internal/pkg/ledger"
	"github.com/ManuelReschke/PropNest/internal/pkg/subscription"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *memory.Store
	sandbox *gateway.SandboxClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return now }
	store := memory.New()
	repos := store.Repos()

	require.NoError(t, repos.Plan.Create(ctx, &models.Plan{
		Code: "owner-pro", Name: "Owner Pro", Audience: models.PlanAudienceOwner,
		Price: decimal.NewFromInt(1999), Currency: "INR", BillingCycle: models.BillingCycleMonthly,
		TrialDays: 14, IsPublished: true,
		Features: []models.PlanFeature{
			{FeatureKey: "listings", FeatureValue: "3"},
			{FeatureKey: "photos", FeatureValue: "unlimited"},
		},
	}))
	require.NoError(t, repos.Plan.Create(ctx, &models.Plan{
		Code: "tenant-basic", Audience: models.PlanAudienceTenant,
		Price: decimal.NewFromInt(299), Currency: "INR", BillingCycle: models.BillingCycleMonthly, IsPublished: true,
	}))
	limit := 1
	require.NoError(t, repos.Coupon.Create(ctx, &models.Coupon{
		Code: "HALF", Kind: models.CouponKindPercent, Value: decimal.NewFromInt(50),
		MaxRedemptions: &limit, PerUserLimit: 1, IsActive: true,
	}))

	sandbox := gateway.NewSandboxClient(config.GatewayCredentials{KeyID: "k", KeySecret: "s", WebhookSecret: "w"})
	registry := gateway.NewRegistry(config.GatewaySandbox, sandbox)
	manager := subscription.NewManager(clock, nil)
	return &fixture{
		store:   store,
		sandbox: sandbox,
		svc: NewService(Deps{
			Store:    store,
			Catalog:  catalog.New(repos.Plan, nil, time.Minute, nil),
			Coupons:  coupon.NewEngine(clock),
			Manager:  manager,
			Ledger:   ledger.New(store, registry, manager, ledger.WithClock(clock)),
			Gateways: registry,
		}),
	}
}

func owner(userID uint) SubscribeParams {
	return SubscribeParams{UserID: userID, Audience: models.AudienceOwner, PlanCode: "owner-pro", StartNow: true}
}

func TestSubscribeExample(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Subscribe(context.Background(), owner(1))
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusTrialing, res.Subscription.Status)
	assert.Equal(t, config.GatewaySandbox, res.Subscription.Gateway)
	assert.True(t, decimal.NewFromInt(1999).Equal(res.Invoice.Total))
	assert.Equal(t, now.Add(7*24*time.Hour), res.Invoice.DueAt)
	assert.Equal(t, res.Subscription.ID, res.Invoice.SubscriptionID)
}

func TestSubscribeWithCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := owner(1)
	p.CouponCode = " half "

	res, err := f.svc.Subscribe(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "1999", res.Invoice.Subtotal.String())
	assert.Equal(t, "999.5", res.Invoice.Discount.String())
	assert.Equal(t, "999.5", res.Invoice.Total.String())
	require.NotNil(t, res.Subscription.CouponID)

	c, err := f.store.Repos().Coupon.FindByCode(ctx, "HALF", false)
	require.NoError(t, err)
	n, err := f.store.Repos().Coupon.CountRedemptions(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p = owner(2)
	p.CouponCode = "HALF"
	_, err = f.svc.Subscribe(ctx, p)
	assert.ErrorIs(t, err, apperror.ErrCouponLimitExceeded)
}

func TestSubscribeFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := owner(1)
	p.CouponCode = "NOPE"
	_, err := f.svc.Subscribe(ctx, p)
	require.ErrorIs(t, err, apperror.ErrInvalidCoupon)

	subs, err := f.svc.ListSubscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, subs)
	invoices, err := f.svc.ListInvoices(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestSubscribeErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := owner(1)
	p.PlanCode = "missing"
	_, err := f.svc.Subscribe(ctx, p)
	assert.ErrorIs(t, err, apperror.ErrPlanNotFound)

	p = owner(1)
	p.PlanCode = "tenant-basic"
	_, err = f.svc.Subscribe(ctx, p)
	assert.ErrorIs(t, err, apperror.ErrInvalidAudience)

	p = owner(1)
	p.Gateway = "paypal"
	_, err = f.svc.Subscribe(ctx, p)
	assert.ErrorIs(t, err, apperror.ErrUnsupportedGateway)

	_, err = f.svc.Subscribe(ctx, owner(1))
	require.NoError(t, err)
	_, err = f.svc.Subscribe(ctx, owner(1))
	assert.ErrorIs(t, err, apperror.ErrActiveSubscriptionExists)

	tenant := SubscribeParams{UserID: 1, Audience: models.AudienceTenant, PlanCode: "tenant-basic", StartNow: true}
	_, err = f.svc.Subscribe(ctx, tenant)
	assert.NoError(t, err, "the live slot is per audience")
}

func TestConcurrentSubscribeCreatesOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Subscribe(ctx, owner(7)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	invoices, err := f.svc.ListInvoices(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestOwnershipChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.Subscribe(ctx, owner(1))
	require.NoError(t, err)

	_, err = f.svc.GetSubscription(ctx, 2, res.Subscription.ID)
	assert.ErrorIs(t, err, apperror.ErrSubscriptionNotFound)
	_, err = f.svc.Cancel(ctx, 2, res.Subscription.ID, false)
	assert.ErrorIs(t, err, apperror.ErrSubscriptionNotFound)
	_, err = f.svc.GetInvoice(ctx, 2, res.Invoice.ID)
	assert.ErrorIs(t, err, apperror.ErrInvoiceNotFound)

	got, err := f.svc.GetInvoice(ctx, 1, res.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Invoice.InvoiceNo, got.InvoiceNo)
}

func TestLifecycleThroughService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := owner(1)
	zero := 0
	p.TrialOverrideDays = &zero
	res, err := f.svc.Subscribe(ctx, p)
	require.NoError(t, err)
	id := res.Subscription.ID
	require.Equal(t, models.SubscriptionStatusActive, res.Subscription.Status)

	_, err = f.svc.Resume(ctx, 1, id)
	assert.ErrorIs(t, err, apperror.ErrInvalidStateTransition)

	sub, err := f.svc.Pause(ctx, 1, id, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPaused, sub.Status)

	sub, err = f.svc.Resume(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	sub, err = f.svc.Cancel(ctx, 1, id, true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	sub, err = f.svc.Cancel(ctx, 1, id, false)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)

	stored, err := f.svc.GetSubscription(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, stored.Status)
}

func TestEntitlements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	none, err := f.svc.Entitlements(ctx, 1, models.AudienceOwner)
	require.NoError(t, err)
	assert.Nil(t, none.Plan)
	assert.Empty(t, none.Features)

	_, err = f.svc.Subscribe(ctx, owner(1))
	require.NoError(t, err)

	got, err := f.svc.Entitlements(ctx, 1, models.AudienceOwner)
	require.NoError(t, err)
	require.NotNil(t, got.Plan)
	assert.Equal(t, "owner-pro", got.Plan.Code)
	assert.Equal(t, "3", got.Features["listings"])

	tenant, err := f.svc.Entitlements(ctx, 1, models.AudienceTenant)
	require.NoError(t, err)
	assert.Nil(t, tenant.Plan)
}

func TestConsumeUsage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ConsumeUsage(ctx, 1, models.AudienceOwner, "listings", 1)
	assert.ErrorIs(t, err, apperror.ErrSubscriptionNotFound)

	_, err = f.svc.Subscribe(ctx, owner(1))
	require.NoError(t, err)

	u, err := f.svc.ConsumeUsage(ctx, 1, models.AudienceOwner, "listings", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Used)
	assert.Equal(t, int64(3), *u.Limit)
	assert.Equal(t, int64(1), *u.Remaining)

	_, err = f.svc.ConsumeUsage(ctx, 1, models.AudienceOwner, "listings", 2)
	assert.ErrorIs(t, err, apperror.ErrUsageLimitExceeded)

	u, err = f.svc.ConsumeUsage(ctx, 1, models.AudienceOwner, "listings", 1)
	require.NoError(t, err, "the rejected consumption was not counted")
	assert.Equal(t, int64(3), u.Used)
	assert.Equal(t, int64(0), *u.Remaining)

	u, err = f.svc.ConsumeUsage(ctx, 1, models.AudienceOwner, "photos", 500)
	require.NoError(t, err)
	assert.Nil(t, u.Limit)

	_, err = f.svc.ConsumeUsage(ctx, 1, models.AudienceOwner, "photos", 0)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestPaymentFlowThroughService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.Subscribe(ctx, owner(1))
	require.NoError(t, err)

	checkout, err := f.svc.InitializePayment(ctx, 1, res.Invoice.ID, "")
	require.NoError(t, err)

	settled, err := f.svc.ConfirmPayment(ctx, 1, ledger.ConfirmParams{
		InvoiceID: res.Invoice.ID,
		OrderID:   checkout.Order.ID,
		PaymentID: "pay_1",
		Signature: f.sandbox.SignPayment(checkout.Order.ID, "pay_1"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, settled.Invoice.Status)
	assert.Equal(t, models.SubscriptionStatusActive, settled.Subscription.Status)
}
