package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

// IsTerminal reports whether no further transitions are possible.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

// IsLive reports whether the status occupies the single live slot per
// (user, audience).
func (s SubscriptionStatus) IsLive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// IsEntitling reports whether features of the plan should be granted.
func (s SubscriptionStatus) IsEntitling() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

const (
	ProrationCreateProrations = "create_prorations"
	ProrationNone             = "none"
)

// Subscription is mutated in place through its state machine and never
// deleted.
type Subscription struct {
	ID                    uint               `gorm:"primaryKey" json:"id"`
	UserID                uint               `gorm:"not null;index:idx_subscriptions_user_audience,priority:1" json:"user_id"`
	Audience              Audience           `gorm:"type:varchar(16);not null;index:idx_subscriptions_user_audience,priority:2" json:"audience"`
	PlanID                uint               `gorm:"not null;index" json:"plan_id"`
	Plan                  *Plan              `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status                SubscriptionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	BillingCycle          BillingCycle       `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	CurrentPeriodStart    time.Time          `gorm:"type:timestamp;not null" json:"current_period_start"`
	CurrentPeriodEnd      *time.Time         `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEndsAt           *time.Time         `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	CancelAtPeriodEnd     bool               `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt            *time.Time         `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	PausedAt              *time.Time         `gorm:"type:timestamp;default:null" json:"paused_at,omitempty"`
	ResumeAt              *time.Time         `gorm:"type:timestamp;default:null" json:"resume_at,omitempty"`
	ProrationBehavior     string             `gorm:"type:varchar(32);not null;default:'create_prorations'" json:"proration_behavior"`
	Gateway               string             `gorm:"type:varchar(32);not null;default:''" json:"gateway"`
	GatewaySubscriptionID *string            `gorm:"type:varchar(191);default:null;index" json:"gateway_subscription_id,omitempty"`
	CouponID              *uint              `gorm:"default:null;index" json:"coupon_id,omitempty"`
	LiveSlot              *string            `gorm:"type:varchar(64);default:null;uniqueIndex" json:"-"`
	CreatedAt             time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// LiveSlotKey returns the value of the unique live slot column. It is only set
// while the subscription is active or trialing, so the unique index allows at
// most one live subscription per (user, audience).
func (s *Subscription) LiveSlotKey() *string {
	if !s.Status.IsLive() {
		return nil
	}
	key := fmt.Sprintf("%d:%s", s.UserID, s.Audience)
	return &key
}

// BeforeSave keeps the live slot in sync with the status.
func (s *Subscription) BeforeSave(tx *gorm.DB) error {
	s.LiveSlot = s.LiveSlotKey()
	return nil
}
