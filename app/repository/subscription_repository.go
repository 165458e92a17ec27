package repository

import (
	"context"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create inserts a subscription. A second live subscription for the same
// user and audience fails with gorm.ErrDuplicatedKey on the live slot index.
func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Omit("Plan").Create(sub).Error
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uint, forUpdate bool) (*models.Subscription, error) {
	var sub models.Subscription
	query := r.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) FindLive(ctx context.Context, userID uint, audience models.Audience) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND audience = ? AND status IN ?", userID, audience,
			[]models.SubscriptionStatus{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindEntitling(ctx context.Context, userID uint, audience models.Audience) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan.Features").
		Where("user_id = ? AND audience = ? AND status IN ?", userID, audience,
			[]models.SubscriptionStatus{
				models.SubscriptionStatusActive,
				models.SubscriptionStatusTrialing,
				models.SubscriptionStatusPastDue,
			}).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindByGatewaySubscriptionID(ctx context.Context, gateway, gatewaySubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND gateway_subscription_id = ?", gateway, gatewaySubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Omit("Plan").Save(sub).Error
}
