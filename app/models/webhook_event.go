package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent stores verified gateway webhook payloads. The unique
// (gateway, event_id) pair doubles as the replay guard.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Gateway         string         `gorm:"type:varchar(32);not null;index:ux_webhook_events_gateway_event,unique,priority:1" json:"gateway"`
	EventID         string         `gorm:"type:varchar(191);not null;index:ux_webhook_events_gateway_event,unique,priority:2" json:"event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload         datatypes.JSON `gorm:"type:json;not null" json:"payload"`
	Signature       string         `gorm:"type:varchar(255);not null;default:''" json:"signature"`
	ProcessedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Processed reports whether dispatch already ran for this event.
func (e *WebhookEvent) Processed() bool {
	return e.ProcessedAt != nil
}
