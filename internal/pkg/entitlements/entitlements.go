package entitlements

import (
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
)

// Unlimited feature values never limit usage.
const Unlimited = "unlimited"

// PlanSummary is the part of a plan shown next to the resolved grants.
type PlanSummary struct {
	ID           uint                `json:"id"`
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	BillingCycle models.BillingCycle `json:"billing_cycle"`
}

// Entitlements are the grants of a user for one audience.
type Entitlements struct {
	Audience         models.Audience            `json:"audience"`
	Plan             *PlanSummary               `json:"plan"`
	SubscriptionID   *uint                      `json:"subscription_id,omitempty"`
	Status           *models.SubscriptionStatus `json:"status,omitempty"`
	CurrentPeriodEnd *time.Time                 `json:"current_period_end,omitempty"`
	Features         map[string]string          `json:"features"`
}

// None is the result for a user without an entitling subscription.
func None(audience models.Audience) Entitlements {
	return Entitlements{Audience: audience, Features: map[string]string{}}
}

// Resolve computes the grants of sub. Subscriptions that do not entitle,
// such as paused or canceled ones, grant nothing.
func Resolve(audience models.Audience, sub *models.Subscription) Entitlements {
	if sub == nil || !sub.Status.IsEntitling() || sub.Plan == nil {
		return None(audience)
	}
	status := sub.Status
	id := sub.ID
	return Entitlements{
		Audience: audience,
		Plan: &PlanSummary{
			ID:           sub.Plan.ID,
			Code:         sub.Plan.Code,
			Name:         sub.Plan.Name,
			BillingCycle: sub.BillingCycle,
		},
		SubscriptionID:   &id,
		Status:           &status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		Features:         sub.Plan.FeatureMap(),
	}
}

// Limit returns the numeric limit a feature value sets on a usage metric.
// Only integer values limit; anything else such as "true" or "unlimited"
// reports ok=false.
func Limit(features map[string]string, metric string) (limit int64, ok bool) {
	raw, found := features[metric]
	if !found {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, Unlimited) {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
