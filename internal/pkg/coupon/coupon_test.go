package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/app/repository/memory"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
)

var (
	fixedNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	plan     = &models.Plan{ID: 1, Code: "owner-pro", Price: decimal.NewFromInt(1999), Currency: "INR"}
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func newRepo(t *testing.T, coupons ...models.Coupon) repository.CouponRepository {
	t.Helper()
	repo := memory.New().Repos().Coupon
	for i := range coupons {
		require.NoError(t, repo.Create(context.Background(), &coupons[i]))
	}
	return repo
}

func TestPriceDiscounts(t *testing.T) {
	tests := []struct {
		name   string
		coupon models.Coupon
		want   string
	}{
		{"percent half", models.Coupon{Code: "HALF", Kind: models.CouponKindPercent, Value: decimal.NewFromInt(50)}, "999.5"},
		{"percent rounds to cents", models.Coupon{Code: "THIRD", Kind: models.CouponKindPercent, Value: decimal.RequireFromString("33.33")}, "666.27"},
		{"fixed", models.Coupon{Code: "FLAT", Kind: models.CouponKindFixed, Value: decimal.NewFromInt(250)}, "250"},
		{"fixed above price is not clamped here", models.Coupon{Code: "HUGE", Kind: models.CouponKindFixed, Value: decimal.NewFromInt(5000)}, "5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.coupon.IsActive = true
			tt.coupon.PerUserLimit = 1
			repo := newRepo(t, tt.coupon)
			e := NewEngine(func() time.Time { return fixedNow })

			q, err := e.Price(context.Background(), repo, tt.coupon.Code, plan, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Discount.String())
		})
	}
}

func TestPriceValidationOrder(t *testing.T) {
	base := models.Coupon{Kind: models.CouponKindFixed, Value: decimal.NewFromInt(10), IsActive: true, PerUserLimit: 1}
	with := func(code string, mutate func(c *models.Coupon)) models.Coupon {
		c := base
		c.Code = code
		mutate(&c)
		return c
	}
	repo := newRepo(t,
		with("INACTIVE", func(c *models.Coupon) { c.IsActive = false }),
		with("FUTURE", func(c *models.Coupon) { c.StartsAt = timePtr(fixedNow.Add(time.Hour)) }),
		with("PAST", func(c *models.Coupon) { c.EndsAt = timePtr(fixedNow.Add(-time.Hour)) }),
		with("ZERO", func(c *models.Coupon) { c.MaxRedemptions = intPtr(0) }),
		with("OK", func(c *models.Coupon) {
			c.StartsAt = timePtr(fixedNow.Add(-time.Hour))
			c.EndsAt = timePtr(fixedNow.Add(time.Hour))
		}),
	)
	e := NewEngine(func() time.Time { return fixedNow })

	tests := []struct {
		code string
		want error
	}{
		{"", apperror.ErrInvalidCoupon},
		{"MISSING", apperror.ErrInvalidCoupon},
		{"INACTIVE", apperror.ErrInvalidCoupon},
		{"FUTURE", apperror.ErrInvalidCoupon},
		{"PAST", apperror.ErrInvalidCoupon},
		{"ZERO", apperror.ErrCouponLimitExceeded},
		{" ok ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := e.Price(context.Background(), repo, tt.code, plan, 1)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestRedemptionLimits(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, models.Coupon{
		Code: "LAUNCH", Kind: models.CouponKindPercent, Value: decimal.NewFromInt(10),
		IsActive: true, PerUserLimit: 1, MaxRedemptions: intPtr(2),
	})
	e := NewEngine(func() time.Time { return fixedNow })

	q, err := e.Price(ctx, repo, "launch", plan, 1)
	require.NoError(t, err)
	require.NoError(t, e.Redeem(ctx, repo, q, 1, 100))

	_, err = e.Price(ctx, repo, "launch", plan, 1)
	assert.ErrorIs(t, err, apperror.ErrUserCouponLimitExceeded)

	q, err = e.Price(ctx, repo, "launch", plan, 2)
	require.NoError(t, err)
	require.NoError(t, e.Redeem(ctx, repo, q, 2, 101))

	_, err = e.Price(ctx, repo, "launch", plan, 3)
	assert.ErrorIs(t, err, apperror.ErrCouponLimitExceeded, "global limit is checked before the per-user limit")

	total, err := repo.CountRedemptions(ctx, q.CouponID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}
