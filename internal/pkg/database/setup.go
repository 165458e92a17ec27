package database

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the process wide connection opened by SetupDatabase.
var DB *gorm.DB

// Models lists every table owned by the billing service.
func Models() []interface{} {
	return []interface{}{
		&models.Plan{},
		&models.PlanFeature{},
		&models.Coupon{},
		&models.CouponRedemption{},
		&models.Subscription{},
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.InvoiceSequence{},
		&models.Payment{},
		&models.WebhookEvent{},
		&models.IdempotencyRecord{},
		&models.UsageCounter{},
	}
}

// SetupDatabase connects to MySQL, retrying while the server comes up, and
// migrates the billing tables. Duplicate key violations surface as
// gorm.ErrDuplicatedKey.
func SetupDatabase(cfg config.DBConfig, log *zap.Logger) (*gorm.DB, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       cfg.DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if err = DB.AutoMigrate(Models()...); err != nil {
				return nil, err
			}
			return DB, nil
		}

		log.Warn("failed to connect to database",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}
