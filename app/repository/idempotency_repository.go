package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates an idempotency record repository backed by GORM.
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

// Reserve is a single conditional insert; the unique (scope, idem_key) index
// decides which of two racing requests gets the reservation.
func (r *idempotencyRepository) Reserve(ctx context.Context, record *models.IdempotencyRecord, now time.Time) (bool, *models.IdempotencyRecord, error) {
	db := r.db.WithContext(ctx)

	// Expired rows do not block a new reservation.
	if err := db.Where("scope = ? AND idem_key = ? AND expires_at <= ?", record.Scope, record.Key, now).
		Delete(&models.IdempotencyRecord{}).Error; err != nil {
		return false, nil, err
	}

	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "idem_key"}},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	var stored models.IdempotencyRecord
	if err := db.Where("scope = ? AND idem_key = ?", record.Scope, record.Key).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return tx.RowsAffected > 0, &stored, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, scope, key string, statusCode int, result []byte, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("scope = ? AND idem_key = ?", scope, key).
		Updates(map[string]interface{}{
			"state":       models.IdempotencyStateCompleted,
			"status_code": statusCode,
			"result":      result,
			"expires_at":  expiresAt,
		}).Error
}

func (r *idempotencyRepository) Release(ctx context.Context, scope, key string) error {
	return r.db.WithContext(ctx).
		Where("scope = ? AND idem_key = ? AND state = ?", scope, key, models.IdempotencyStateInFlight).
		Delete(&models.IdempotencyRecord{}).Error
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.IdempotencyRecord{})
	return tx.RowsAffected, tx.Error
}
