package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle controls how long a subscription period lasts.
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleYearly    BillingCycle = "yearly"
	BillingCycleOneTime   BillingCycle = "one-time"
)

// ParseBillingCycle normalizes a raw billing cycle value.
func ParseBillingCycle(raw string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(raw))); c {
	case BillingCycleMonthly, BillingCycleQuarterly, BillingCycleYearly, BillingCycleOneTime:
		return c, nil
	default:
		return "", fmt.Errorf("unknown billing cycle %q", raw)
	}
}

// PeriodLength returns the length of one billing period. One-time purchases
// have no period and return ok=false.
func (c BillingCycle) PeriodLength() (time.Duration, bool) {
	const day = 24 * time.Hour
	switch c {
	case BillingCycleMonthly:
		return 30 * day, true
	case BillingCycleQuarterly:
		return 90 * day, true
	case BillingCycleYearly:
		return 365 * day, true
	default:
		return 0, false
	}
}

// Plan is a purchasable catalog entry. The billing engine only reads plans;
// they are maintained by the admin side.
type Plan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Code         string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Name         string          `gorm:"type:varchar(150);not null;default:''" json:"name"`
	Audience     PlanAudience    `gorm:"type:varchar(16);not null;index" json:"audience"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
	BillingCycle BillingCycle    `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	SetupFee     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"setup_fee"`
	TrialDays    int             `gorm:"not null;default:0" json:"trial_days"`
	IsPublished  bool            `gorm:"default:false;index" json:"is_published"`
	Features     []PlanFeature   `gorm:"foreignKey:PlanID" json:"features"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FeatureMap flattens the plan features into key/value grants.
func (p *Plan) FeatureMap() map[string]string {
	out := make(map[string]string, len(p.Features))
	for _, f := range p.Features {
		out[f.FeatureKey] = f.FeatureValue
	}
	return out
}

// PlanFeature is a key/value grant attached to a plan.
type PlanFeature struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	PlanID       uint      `gorm:"not null;index:ux_plan_features_plan_key,unique,priority:1" json:"-"`
	FeatureKey   string    `gorm:"type:varchar(100);not null;index:ux_plan_features_plan_key,unique,priority:2" json:"key"`
	FeatureValue string    `gorm:"type:varchar(255);not null;default:''" json:"value"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"-"`
}
