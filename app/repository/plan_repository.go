package repository

import (
	"context"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// Create inserts a plan with its features
func (r *planRepository) Create(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

// GetByID retrieves a plan by its ID, published or not
func (r *planRepository) GetByID(ctx context.Context, id uint) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.WithContext(ctx).Preload("Features").First(&plan, id).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindPublishedByCode retrieves a published plan by its code
func (r *planRepository) FindPublishedByCode(ctx context.Context, code string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.WithContext(ctx).
		Preload("Features").
		Where("code = ? AND is_published = ?", code, true).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListPublished lists published plans, optionally restricted to audiences
func (r *planRepository) ListPublished(ctx context.Context, audiences []models.PlanAudience) ([]models.Plan, error) {
	var plans []models.Plan
	query := r.db.WithContext(ctx).Preload("Features").Where("is_published = ?", true)
	if len(audiences) > 0 {
		query = query.Where("audience IN ?", audiences)
	}
	err := query.Order("price ASC, id ASC").Find(&plans).Error
	return plans, err
}
