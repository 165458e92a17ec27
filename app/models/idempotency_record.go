package models

import "time"

type IdempotencyState string

const (
	IdempotencyStateInFlight  IdempotencyState = "in_flight"
	IdempotencyStateCompleted IdempotencyState = "completed"
)

// IdempotencyRecord remembers the outcome of a mutating request for a
// retention window.
type IdempotencyRecord struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	Scope       string           `gorm:"type:varchar(128);not null;index:ux_idempotency_scope_key,unique,priority:1" json:"scope"`
	Key         string           `gorm:"column:idem_key;type:varchar(128);not null;index:ux_idempotency_scope_key,unique,priority:2" json:"key"`
	RequestHash string           `gorm:"type:varchar(64);not null;default:''" json:"request_hash"`
	State       IdempotencyState `gorm:"type:varchar(16);not null" json:"state"`
	StatusCode  int              `gorm:"not null;default:0" json:"status_code"`
	// Result is kept as raw bytes; a json column would reformat it.
	Result      []byte           `gorm:"type:mediumblob" json:"-"`
	ExpiresAt   time.Time        `gorm:"type:timestamp;not null;index" json:"expires_at"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// Expired reports whether the record is past its retention window.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
