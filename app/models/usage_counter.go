package models

import "time"

// UsageCounter accumulates consumption of a metric within one billing period.
type UsageCounter struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	SubscriptionID uint      `gorm:"not null;index:ux_usage_counters_sub_metric_period,unique,priority:1" json:"subscription_id"`
	Metric         string    `gorm:"type:varchar(100);not null;index:ux_usage_counters_sub_metric_period,unique,priority:2" json:"metric"`
	PeriodStart    time.Time `gorm:"type:timestamp;not null;index:ux_usage_counters_sub_metric_period,unique,priority:3" json:"period_start"`
	Quantity       int64     `gorm:"not null;default:0" json:"quantity"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
