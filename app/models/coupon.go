package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CouponKind string

const (
	CouponKindPercent CouponKind = "percent"
	CouponKindFixed   CouponKind = "fixed"
)

// Coupon is a discount definition. How often it was used is never stored on
// the coupon itself; count CouponRedemption rows instead.
type Coupon struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Code           string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Kind           CouponKind      `gorm:"type:varchar(16);not null" json:"kind"`
	Value          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"value"`
	StartsAt       *time.Time      `gorm:"type:timestamp;default:null" json:"starts_at,omitempty"`
	EndsAt         *time.Time      `gorm:"type:timestamp;default:null" json:"ends_at,omitempty"`
	MaxRedemptions *int            `gorm:"default:null" json:"max_redemptions,omitempty"`
	PerUserLimit   int             `gorm:"not null;default:1" json:"per_user_limit"`
	IsActive       bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeCouponCode upper-cases and trims a user supplied coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// InWindow reports whether t lies inside the coupon validity window. Open
// ends of the window are unbounded.
func (c *Coupon) InWindow(t time.Time) bool {
	if c.StartsAt != nil && t.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && t.After(*c.EndsAt) {
		return false
	}
	return true
}

// CouponRedemption is an append-only ledger row, one per successful purchase
// that used a coupon.
type CouponRedemption struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CouponID       uint      `gorm:"not null;index:idx_coupon_redemptions_coupon_user,priority:1" json:"coupon_id"`
	UserID         uint      `gorm:"not null;index:idx_coupon_redemptions_coupon_user,priority:2" json:"user_id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	RedeemedAt     time.Time `gorm:"not null" json:"redeemed_at"`
}
