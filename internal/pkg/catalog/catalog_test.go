package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/app/repository/memory"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/cache"
)

func seed(t *testing.T, repo repository.PlanRepository) {
	t.Helper()
	ctx := context.Background()
	plans := []models.Plan{
		{Code: "owner-pro", Audience: models.PlanAudienceOwner, Price: decimal.NewFromInt(1999), Currency: "INR",
			BillingCycle: models.BillingCycleMonthly, IsPublished: true,
			Features: []models.PlanFeature{{FeatureKey: "listings", FeatureValue: "25"}}},
		{Code: "tenant-plus", Audience: models.PlanAudienceTenant, Price: decimal.NewFromInt(499), Currency: "INR",
			BillingCycle: models.BillingCycleMonthly, IsPublished: true},
		{Code: "verified-badge", Audience: models.PlanAudienceBoth, Price: decimal.NewFromInt(99), Currency: "INR",
			BillingCycle: models.BillingCycleOneTime, IsPublished: true},
		{Code: "owner-draft", Audience: models.PlanAudienceOwner, Price: decimal.NewFromInt(1), Currency: "INR",
			BillingCycle: models.BillingCycleMonthly, IsPublished: false},
	}
	for i := range plans {
		require.NoError(t, repo.Create(ctx, &plans[i]))
	}
}

func codes(plans []models.Plan) []string {
	out := make([]string, 0, len(plans))
	for _, p := range plans {
		out = append(out, p.Code)
	}
	return out
}

func TestListPublishedFiltersByAudience(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Repos().Plan
	seed(t, repo)
	c := New(repo, nil, time.Minute, nil)

	all, err := c.ListPublished(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"verified-badge", "tenant-plus", "owner-pro"}, codes(all))

	owner := models.AudienceOwner
	ownerPlans, err := c.ListPublished(ctx, &owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"verified-badge", "owner-pro"}, codes(ownerPlans))

	tenant := models.AudienceTenant
	tenantPlans, err := c.ListPublished(ctx, &tenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"verified-badge", "tenant-plus"}, codes(tenantPlans))
}

func TestFindPublishedPlan(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Repos().Plan
	seed(t, repo)
	c := New(repo, nil, time.Minute, nil)

	plan, err := c.FindPublishedPlan(ctx, "owner-pro")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"listings": "25"}, plan.FeatureMap())

	_, err = c.FindPublishedPlan(ctx, "owner-draft")
	assert.ErrorIs(t, err, apperror.ErrPlanNotFound)

	_, err = c.FindPublishedPlan(ctx, "nope")
	assert.ErrorIs(t, err, apperror.ErrPlanNotFound)
}

func TestPlanForAudience(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Repos().Plan
	seed(t, repo)
	c := New(repo, nil, time.Minute, nil)

	tests := []struct {
		code     string
		audience models.Audience
		wantErr  error
	}{
		{"owner-pro", models.AudienceOwner, nil},
		{"owner-pro", models.AudienceTenant, apperror.ErrInvalidAudience},
		{"tenant-plus", models.AudienceOwner, apperror.ErrInvalidAudience},
		{"verified-badge", models.AudienceTenant, nil},
		{"verified-badge", models.AudienceOwner, nil},
	}
	for _, tt := range tests {
		t.Run(tt.code+"/"+string(tt.audience), func(t *testing.T) {
			_, err := c.PlanForAudience(ctx, tt.code, tt.audience)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCatalogReadThroughCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := memory.New().Repos().Plan
	seed(t, repo)
	c := New(repo, cache.NewStore(client, "catalog:"), time.Minute, nil)

	plan, err := c.FindPublishedPlan(ctx, "owner-pro")
	require.NoError(t, err)
	assert.True(t, mr.Exists("catalog:plan:owner-pro"))

	cached, err := c.FindPublishedPlan(ctx, "owner-pro")
	require.NoError(t, err)
	assert.True(t, plan.Price.Equal(cached.Price))
	assert.Equal(t, plan.FeatureMap(), cached.FeatureMap())

	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, mr.Exists("catalog:plan:owner-pro"))
}
