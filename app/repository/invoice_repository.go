package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// invoiceRepository implements the InvoiceRepository interface
type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository instance
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *invoiceRepository) GetByID(ctx context.Context, id uint, forUpdate bool) (*models.Invoice, error) {
	var invoice models.Invoice
	query := r.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&invoice, id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) ListByUser(ctx context.Context, userID uint) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&invoices).Error
	return invoices, err
}

// NextNumber locks the sequence row, hands out its value and advances it.
// It must run inside a transaction for the lock to serialize callers.
func (r *invoiceRepository) NextNumber(ctx context.Context, sequence string) (uint64, error) {
	db := r.db.WithContext(ctx)

	var seq models.InvoiceSequence
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("name = ?", sequence).First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// first use; a concurrent creator wins the insert and we lock its row
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.InvoiceSequence{Name: sequence, NextValue: 1}).Error; err != nil {
			return 0, err
		}
		err = db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("name = ?", sequence).First(&seq).Error
	}
	if err != nil {
		return 0, err
	}

	value := seq.NextValue
	if err := db.Model(&models.InvoiceSequence{}).
		Where("name = ?", sequence).
		Update("next_value", gorm.Expr("next_value + 1")).Error; err != nil {
		return 0, err
	}
	return value, nil
}

func (r *invoiceRepository) MarkPaid(ctx context.Context, id uint, paidAt time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, models.InvoiceStatusPending).
		Updates(map[string]interface{}{
			"status":  models.InvoiceStatusPaid,
			"paid_at": &paidAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
