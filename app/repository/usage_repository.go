package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a usage counter repository backed by GORM.
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Get(ctx context.Context, subscriptionID uint, metric string, periodStart time.Time) (int64, error) {
	var counter models.UsageCounter
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND metric = ? AND period_start = ?", subscriptionID, metric, periodStart).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Quantity, nil
}

// Increment upserts the counter with quantity = quantity + ? and reads the
// total back.
func (r *usageRepository) Increment(ctx context.Context, subscriptionID uint, metric string, periodStart time.Time, quantity int64) (int64, error) {
	counter := &models.UsageCounter{
		SubscriptionID: subscriptionID,
		Metric:         metric,
		PeriodStart:    periodStart,
		Quantity:       quantity,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}, {Name: "metric"}, {Name: "period_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("quantity + ?", quantity),
			"updated_at": time.Now(),
		}),
	}).Create(counter).Error
	if err != nil {
		return 0, err
	}
	return r.Get(ctx, subscriptionID, metric, periodStart)
}
