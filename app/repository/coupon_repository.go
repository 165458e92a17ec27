package repository

import (
	"context"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// couponRepository implements the CouponRepository interface
type couponRepository struct {
	db *gorm.DB
}

// NewCouponRepository creates a new coupon repository instance
func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) Create(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	return r.db.WithContext(ctx).Create(coupon).Error
}

func (r *couponRepository) FindByCode(ctx context.Context, code string, forUpdate bool) (*models.Coupon, error) {
	var coupon models.Coupon
	query := r.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.Where("code = ?", models.NormalizeCouponCode(code)).First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *couponRepository) CountRedemptions(ctx context.Context, couponID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CouponRedemption{}).
		Where("coupon_id = ?", couponID).
		Count(&count).Error
	return count, err
}

func (r *couponRepository) CountUserRedemptions(ctx context.Context, couponID, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CouponRedemption{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count, err
}

func (r *couponRepository) CreateRedemption(ctx context.Context, redemption *models.CouponRedemption) error {
	return r.db.WithContext(ctx).Create(redemption).Error
}
