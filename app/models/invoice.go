package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "pending"
	InvoiceStatusPaid     InvoiceStatus = "paid"
	InvoiceStatusVoid     InvoiceStatus = "void"
	InvoiceStatusRefunded InvoiceStatus = "refunded"
)

// Invoice is created once per billing event and only ever moves forward
// through its status.
type Invoice struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"not null;index" json:"user_id"`
	SubscriptionID uint            `gorm:"not null;index" json:"subscription_id"`
	InvoiceNo      string          `gorm:"type:varchar(32);not null;uniqueIndex" json:"invoice_no"`
	Currency       string          `gorm:"type:varchar(3);not null" json:"currency"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	Discount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	Tax            decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Status         InvoiceStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	DueAt          time.Time       `gorm:"type:timestamp;not null" json:"due_at"`
	PaidAt         *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	Items          []InvoiceItem   `gorm:"foreignKey:InvoiceID" json:"items"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceTotal computes max(0, subtotal + tax - discount).
func InvoiceTotal(subtotal, tax, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(tax).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// FormatInvoiceNo renders a sequence value as an invoice number.
func FormatInvoiceNo(issuedAt time.Time, seq uint64) string {
	return fmt.Sprintf("INV-%s-%06d", issuedAt.UTC().Format("200601"), seq)
}

// InvoiceItem is a single invoice line. The line totals of an invoice always
// sum up to its subtotal.
type InvoiceItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	InvoiceID   uint            `gorm:"not null;index" json:"invoice_id"`
	Description string          `gorm:"type:varchar(255);not null" json:"description"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"line_total"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"-"`
}

// InvoiceSequence is a named monotonically increasing counter used for
// invoice numbers.
type InvoiceSequence struct {
	Name      string    `gorm:"type:varchar(32);primaryKey" json:"name"`
	NextValue uint64    `gorm:"not null;default:1" json:"next_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
