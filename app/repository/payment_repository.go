package repository

import (
	"context"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create inserts a payment. A second open payment for the same invoice fails
// with gorm.ErrDuplicatedKey on the open slot index.
func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindOpenByInvoice(ctx context.Context, invoiceID uint) (*models.Payment, error) {
	return r.findByInvoice(ctx, invoiceID, models.PaymentStatusCreated, models.PaymentStatusAuthorized)
}

func (r *paymentRepository) FindCapturedByInvoice(ctx context.Context, invoiceID uint) (*models.Payment, error) {
	return r.findByInvoice(ctx, invoiceID, models.PaymentStatusCaptured)
}

func (r *paymentRepository) findByInvoice(ctx context.Context, invoiceID uint, statuses ...models.PaymentStatus) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND status IN ?", invoiceID, statuses).
		Order("id DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindByGatewayOrderID(ctx context.Context, gateway, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND gateway_order_id = ?", gateway, orderID).
		Order("id DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Transition is a compare-and-set on the payment status so that two
// concurrent confirmations cannot both capture.
func (r *paymentRepository) Transition(ctx context.Context, payment *models.Payment, from ...models.PaymentStatus) (bool, error) {
	updates := map[string]interface{}{
		"status":             payment.Status,
		"gateway_payment_id": payment.GatewayPaymentID,
		"failure_reason":     payment.FailureReason,
		"captured_at":        payment.CapturedAt,
		"open_slot":          payment.OpenSlotKey(),
	}
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", payment.ID, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
