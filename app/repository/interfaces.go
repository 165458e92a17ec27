package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
)

// PlanRepository defines the interface for plan catalog reads.
type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, id uint) (*models.Plan, error)
	FindPublishedByCode(ctx context.Context, code string) (*models.Plan, error)
	ListPublished(ctx context.Context, audiences []models.PlanAudience) ([]models.Plan, error)
}

// CouponRepository defines the interface for coupons and their redemption ledger.
type CouponRepository interface {
	Create(ctx context.Context, coupon *models.Coupon) error
	// FindByCode looks up a coupon by its normalized code. With forUpdate the
	// row stays locked until the surrounding transaction ends.
	FindByCode(ctx context.Context, code string, forUpdate bool) (*models.Coupon, error)
	CountRedemptions(ctx context.Context, couponID uint) (int64, error)
	CountUserRedemptions(ctx context.Context, couponID, userID uint) (int64, error)
	CreateRedemption(ctx context.Context, redemption *models.CouponRedemption) error
}

// SubscriptionRepository defines the interface for subscription persistence.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uint, forUpdate bool) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Subscription, error)
	// FindLive returns the active or trialing subscription of a user for an audience.
	FindLive(ctx context.Context, userID uint, audience models.Audience) (*models.Subscription, error)
	// FindEntitling returns the newest subscription that currently grants features.
	FindEntitling(ctx context.Context, userID uint, audience models.Audience) (*models.Subscription, error)
	FindByGatewaySubscriptionID(ctx context.Context, gateway, gatewaySubscriptionID string) (*models.Subscription, error)
	Save(ctx context.Context, sub *models.Subscription) error
}

// InvoiceRepository defines the interface for invoices and invoice numbering.
type InvoiceRepository interface {
	// Create inserts the invoice together with its items.
	Create(ctx context.Context, invoice *models.Invoice) error
	GetByID(ctx context.Context, id uint, forUpdate bool) (*models.Invoice, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Invoice, error)
	// NextNumber atomically returns the next value of the named sequence.
	NextNumber(ctx context.Context, sequence string) (uint64, error)
	// MarkPaid moves a pending invoice to paid. It reports false when the
	// invoice was not pending anymore.
	MarkPaid(ctx context.Context, id uint, paidAt time.Time) (bool, error)
}

// PaymentRepository defines the interface for payment attempts.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	FindOpenByInvoice(ctx context.Context, invoiceID uint) (*models.Payment, error)
	FindCapturedByInvoice(ctx context.Context, invoiceID uint) (*models.Payment, error)
	FindByGatewayOrderID(ctx context.Context, gateway, orderID string) (*models.Payment, error)
	// Transition writes the status related fields of payment if its stored
	// status is one of from. It reports false when no row matched.
	Transition(ctx context.Context, payment *models.Payment, from ...models.PaymentStatus) (bool, error)
}

// WebhookEventRepository defines the interface for the webhook audit log.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless (gateway, event_id) is already
	// stored. It returns whether a row was created and the stored row.
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
	Find(ctx context.Context, gateway, eventID string) (*models.WebhookEvent, error)
}

// IdempotencyRepository defines the interface for stored request outcomes.
type IdempotencyRepository interface {
	// Reserve inserts an in-flight record unless a live record for the same
	// (scope, key) exists. Expired records are replaced. It returns whether the
	// reservation was taken and the record that is stored afterwards.
	Reserve(ctx context.Context, record *models.IdempotencyRecord, now time.Time) (bool, *models.IdempotencyRecord, error)
	Complete(ctx context.Context, scope, key string, statusCode int, result []byte, expiresAt time.Time) error
	Release(ctx context.Context, scope, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// UsageRepository defines the interface for metered usage counters.
type UsageRepository interface {
	Get(ctx context.Context, subscriptionID uint, metric string, periodStart time.Time) (int64, error)
	// Increment adds quantity to the counter and returns the new total.
	Increment(ctx context.Context, subscriptionID uint, metric string, periodStart time.Time, quantity int64) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Plan         PlanRepository
	Coupon       CouponRepository
	Subscription SubscriptionRepository
	Invoice      InvoiceRepository
	Payment      PaymentRepository
	WebhookEvent WebhookEventRepository
	Idempotency  IdempotencyRepository
	Usage        UsageRepository
}

// Store gives access to the repositories and runs work in a transaction.
// Repositories handed to fn are bound to the transaction.
type Store interface {
	Repos() *Repositories
	Transaction(ctx context.Context, fn func(repos *Repositories) error) error
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Plan:         NewPlanRepository(db),
		Coupon:       NewCouponRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Invoice:      NewInvoiceRepository(db),
		Payment:      NewPaymentRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Idempotency:  NewIdempotencyRepository(db),
		Usage:        NewUsageRepository(db),
	}
}
