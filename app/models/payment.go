package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// IsOpen reports whether the payment is still waiting for the gateway.
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentStatusCreated || s == PaymentStatusAuthorized
}

// Payment is one attempt to pay an invoice through the gateway.
type Payment struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	InvoiceID        uint            `gorm:"not null;index" json:"invoice_id"`
	UserID           uint            `gorm:"not null;index" json:"user_id"`
	Gateway          string          `gorm:"type:varchar(32);not null;index:idx_payments_gateway_order,priority:1" json:"gateway"`
	GatewayOrderID   string          `gorm:"type:varchar(191);not null;index:idx_payments_gateway_order,priority:2" json:"gateway_order_id"`
	GatewayPaymentID string          `gorm:"type:varchar(191);not null;default:''" json:"gateway_payment_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status           PaymentStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	FailureReason    string          `gorm:"type:varchar(255);not null;default:''" json:"failure_reason,omitempty"`
	Metadata         datatypes.JSON  `gorm:"type:json" json:"metadata,omitempty"`
	CapturedAt       *time.Time      `gorm:"type:timestamp;default:null" json:"captured_at,omitempty"`
	OpenSlot         *string         `gorm:"type:varchar(32);default:null;uniqueIndex" json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OpenSlotKey is only set while the payment is open, which limits every
// invoice to a single open payment through the unique index.
func (p *Payment) OpenSlotKey() *string {
	if !p.Status.IsOpen() {
		return nil
	}
	key := fmt.Sprintf("invoice:%d", p.InvoiceID)
	return &key
}

// BeforeSave keeps the open slot in sync with the status.
func (p *Payment) BeforeSave(tx *gorm.DB) error {
	p.OpenSlot = p.OpenSlotKey()
	return nil
}
