package coupon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
)

var hundred = decimal.NewFromInt(100)

// Quote is a priced coupon for one plan and user.
type Quote struct {
	CouponID uint
	Code     string
	Discount decimal.Decimal
}

// Engine validates and prices coupons. Redemption counts always come from the
// redemption ledger.
type Engine struct {
	now func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Price validates code for plan and user and computes the discount. Checks
// run in order: existence, active flag and validity window, global limit,
// per-user limit. Inside a transaction the coupon row is locked so that the
// limit checks and the later Redeem cannot interleave with another purchase.
func (e *Engine) Price(ctx context.Context, coupons repository.CouponRepository, code string, plan *models.Plan, userID uint) (*Quote, error) {
	code = models.NormalizeCouponCode(code)
	if code == "" {
		return nil, apperror.ErrInvalidCoupon
	}

	c, err := coupons.FindByCode(ctx, code, true)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrInvalidCoupon.WithMessage("coupon %s does not exist", code)
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if !c.IsActive {
		return nil, apperror.ErrInvalidCoupon.WithMessage("coupon %s is not active", code)
	}
	if !c.InWindow(e.now()) {
		return nil, apperror.ErrInvalidCoupon.WithMessage("coupon %s is not valid at this time", code)
	}

	if c.MaxRedemptions != nil {
		total, err := coupons.CountRedemptions(ctx, c.ID)
		if err != nil {
			return nil, apperror.ErrInternal.Wrap(err)
		}
		if total >= int64(*c.MaxRedemptions) {
			return nil, apperror.ErrCouponLimitExceeded
		}
	}

	perUser, err := coupons.CountUserRedemptions(ctx, c.ID, userID)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if perUser >= int64(c.PerUserLimit) {
		return nil, apperror.ErrUserCouponLimitExceeded
	}

	discount, err := Discount(c, plan.Price)
	if err != nil {
		return nil, err
	}
	return &Quote{CouponID: c.ID, Code: c.Code, Discount: discount}, nil
}

// Redeem appends the redemption row for a successful purchase.
func (e *Engine) Redeem(ctx context.Context, coupons repository.CouponRepository, q *Quote, userID, subscriptionID uint) error {
	if err := coupons.CreateRedemption(ctx, &models.CouponRedemption{
		CouponID:       q.CouponID,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		RedeemedAt:     e.now(),
	}); err != nil {
		return apperror.ErrInternal.Wrap(err)
	}
	return nil
}

// Discount computes the discount of c on price. Percent coupons take
// price*value/100, fixed coupons their value. The result is not clamped; the
// invoice total is.
func Discount(c *models.Coupon, price decimal.Decimal) (decimal.Decimal, error) {
	switch c.Kind {
	case models.CouponKindPercent:
		return price.Mul(c.Value).Div(hundred).Round(2), nil
	case models.CouponKindFixed:
		return c.Value.Round(2), nil
	default:
		return decimal.Zero, apperror.ErrInvalidCoupon.WithMessage("coupon %s has unknown kind %q", c.Code, strings.TrimSpace(string(c.Kind)))
	}
}
