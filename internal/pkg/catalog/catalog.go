package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
)

// Cache is the subset of cache.Store used for read-through caching.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// Catalog serves published plans. Plans are read-mostly, so lookups go
// through an optional cache; cache failures fall back to the repository.
type Catalog struct {
	plans repository.PlanRepository
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

func New(plans repository.PlanRepository, cache Cache, ttl time.Duration, log *zap.Logger) *Catalog {
	return &Catalog{plans: plans, cache: cache, ttl: ttl, log: logger.OrNop(log)}
}

// FindPublishedPlan returns a published plan with its features.
func (c *Catalog) FindPublishedPlan(ctx context.Context, code string) (*models.Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.ErrPlanNotFound
	}

	var cached models.Plan
	if c.readCache(ctx, "plan:"+code, &cached) {
		return &cached, nil
	}

	plan, err := c.plans.FindPublishedByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrPlanNotFound.WithMessage("plan %q not found", code)
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	c.writeCache(ctx, "plan:"+code, plan)
	return plan, nil
}

// ListPublished returns published plans visible to the given audience. A nil
// audience lists every published plan.
func (c *Catalog) ListPublished(ctx context.Context, audience *models.Audience) ([]models.Plan, error) {
	var filter []models.PlanAudience
	key := "plans:all"
	if audience != nil {
		filter = audience.CatalogAudiences()
		if filter == nil {
			return nil, apperror.ErrValidation.WithMessage("unknown audience %q", *audience)
		}
		key = "plans:" + string(*audience)
	}

	var cached []models.Plan
	if c.readCache(ctx, key, &cached) {
		return cached, nil
	}

	plans, err := c.plans.ListPublished(ctx, filter)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	c.writeCache(ctx, key, plans)
	return plans, nil
}

// PlanForAudience resolves a plan a user of the given audience may buy.
func (c *Catalog) PlanForAudience(ctx context.Context, code string, audience models.Audience) (*models.Plan, error) {
	plan, err := c.FindPublishedPlan(ctx, code)
	if err != nil {
		return nil, err
	}
	if !audience.CanBuy(plan.Audience) {
		return nil, apperror.ErrInvalidAudience.WithMessage(
			"plan %q is sold to %s, not %s", plan.Code, plan.Audience, audience)
	}
	return plan, nil
}

// Invalidate drops cached catalog entries after plans changed.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Invalidate(ctx)
}

func (c *Catalog) readCache(ctx context.Context, key string, dst interface{}) bool {
	if c.cache == nil {
		return false
	}
	if err := c.cache.GetJSON(ctx, key, dst); err != nil {
		return false
	}
	return true
}

func (c *Catalog) writeCache(ctx context.Context, key string, value interface{}) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, key, value, c.ttl); err != nil {
		c.log.Debug("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}
