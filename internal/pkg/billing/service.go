package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/catalog"
	"github.com/ManuelReschke/PropNest/internal/pkg/coupon"
	"github.com/ManuelReschke/PropNest/internal/pkg/entitlements"
	"github.com/ManuelReschke/PropNest/internal/pkg/gateway"
	"github.com/ManuelReschke/PropNest/internal/pkg/ledger"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
	"github.com/ManuelReschke/PropNest/internal/pkg/subscription"
)

// Deps are the collaborators of the billing service.
type Deps struct {
	Store    repository.Store
	Catalog  *catalog.Catalog
	Coupons  *coupon.Engine
	Manager  *subscription.Manager
	Ledger   *ledger.Ledger
	Gateways *gateway.Registry
	Logger   *zap.Logger
}

// Service runs the user facing billing flows. Every flow that writes more
// than one row runs in a single transaction.
type Service struct {
	store    repository.Store
	catalog  *catalog.Catalog
	coupons  *coupon.Engine
	subs     *subscription.Manager
	ledger   *ledger.Ledger
	gateways *gateway.Registry
	log      *zap.Logger
}

// NewService creates a billing service from injected collaborators.
func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		catalog:  d.Catalog,
		coupons:  d.Coupons,
		subs:     d.Manager,
		ledger:   d.Ledger,
		gateways: d.Gateways,
		log:      logger.OrNop(d.Logger),
	}
}

// SubscribeParams is a purchase request of an authenticated user.
type SubscribeParams struct {
	UserID            uint
	Audience          models.Audience
	PlanCode          string
	BillingCycle      *models.BillingCycle
	CouponCode        string
	TrialOverrideDays *int
	StartNow          bool
	Gateway           string
}

type SubscribeResult struct {
	Subscription *models.Subscription `json:"subscription"`
	Invoice      *models.Invoice      `json:"invoice"`
}

// Subscribe creates a subscription, redeems the coupon if one was given and
// issues the first invoice. Either all of it is stored or nothing is.
func (s *Service) Subscribe(ctx context.Context, p SubscribeParams) (*SubscribeResult, error) {
	plan, err := s.catalog.PlanForAudience(ctx, p.PlanCode, p.Audience)
	if err != nil {
		return nil, err
	}

	gatewayName := s.gateways.Default()
	if strings.TrimSpace(p.Gateway) != "" {
		client, err := s.gateways.Get(p.Gateway)
		if err != nil {
			return nil, apperror.ErrUnsupportedGateway.WithMessage("%v", err)
		}
		gatewayName = client.Name()
	}

	res := &SubscribeResult{}
	err = s.store.Transaction(ctx, func(repos *repository.Repositories) error {
		var quote *coupon.Quote
		if strings.TrimSpace(p.CouponCode) != "" {
			q, err := s.coupons.Price(ctx, repos.Coupon, p.CouponCode, plan, p.UserID)
			if err != nil {
				return err
			}
			quote = q
		}

		params := subscription.CreateParams{
			UserID:       p.UserID,
			Audience:     p.Audience,
			Plan:         plan,
			BillingCycle: p.BillingCycle,
			TrialDays:    p.TrialOverrideDays,
			StartNow:     p.StartNow,
			Gateway:      gatewayName,
		}
		discount := decimal.Zero
		if quote != nil {
			params.CouponID = &quote.CouponID
			discount = quote.Discount
		}

		sub, err := s.subs.Create(ctx, repos.Subscription, params)
		if err != nil {
			return err
		}
		if quote != nil {
			if err := s.coupons.Redeem(ctx, repos.Coupon, quote, p.UserID, sub.ID); err != nil {
				return err
			}
		}

		inv, err := s.ledger.CreateInvoiceForSubscription(ctx, repos, sub, plan, discount)
		if err != nil {
			return err
		}
		res.Subscription, res.Invoice = sub, inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription purchased",
		zap.Uint("user_id", p.UserID),
		zap.String("plan", plan.Code),
		zap.Uint("subscription_id", res.Subscription.ID),
		zap.String("invoice_no", res.Invoice.InvoiceNo))
	return res, nil
}

// ListSubscriptions returns all subscriptions of a user, newest first.
func (s *Service) ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	subs, err := s.store.Repos().Subscription.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	return subs, nil
}

// GetSubscription returns a subscription owned by userID.
func (s *Service) GetSubscription(ctx context.Context, userID, id uint) (*models.Subscription, error) {
	return ownedSubscription(ctx, s.store.Repos(), userID, id, false)
}

func ownedSubscription(ctx context.Context, repos *repository.Repositories, userID, id uint, forUpdate bool) (*models.Subscription, error) {
	sub, err := repos.Subscription.GetByID(ctx, id, forUpdate)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if sub.UserID != userID {
		return nil, apperror.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Cancel cancels a subscription now or at the end of its current period.
func (s *Service) Cancel(ctx context.Context, userID, id uint, atPeriodEnd bool) (*models.Subscription, error) {
	return s.transition(ctx, userID, id, func(repos *repository.Repositories, sub *models.Subscription) error {
		return s.subs.Cancel(ctx, repos.Subscription, sub, atPeriodEnd)
	})
}

// Pause pauses an active subscription, optionally until resumeAt.
func (s *Service) Pause(ctx context.Context, userID, id uint, resumeAt *time.Time) (*models.Subscription, error) {
	return s.transition(ctx, userID, id, func(repos *repository.Repositories, sub *models.Subscription) error {
		return s.subs.Pause(ctx, repos.Subscription, sub, resumeAt)
	})
}

// Resume reactivates a paused subscription.
func (s *Service) Resume(ctx context.Context, userID, id uint) (*models.Subscription, error) {
	return s.transition(ctx, userID, id, func(repos *repository.Repositories, sub *models.Subscription) error {
		return s.subs.Resume(ctx, repos.Subscription, sub)
	})
}

func (s *Service) transition(ctx context.Context, userID, id uint, fn func(repos *repository.Repositories, sub *models.Subscription) error) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.store.Transaction(ctx, func(repos *repository.Repositories) error {
		sub, err := ownedSubscription(ctx, repos, userID, id, true)
		if err != nil {
			return err
		}
		if err := fn(repos, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Entitlements resolves the feature grants of the caller for an audience.
func (s *Service) Entitlements(ctx context.Context, userID uint, audience models.Audience) (entitlements.Entitlements, error) {
	sub, err := s.store.Repos().Subscription.FindEntitling(ctx, userID, audience)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entitlements.None(audience), nil
	}
	if err != nil {
		return entitlements.Entitlements{}, apperror.ErrInternal.Wrap(err)
	}
	return entitlements.Resolve(audience, sub), nil
}

// Usage is the state of a metered counter after consumption.
type Usage struct {
	Metric      string    `json:"metric"`
	Used        int64     `json:"used"`
	Limit       *int64    `json:"limit"`
	Remaining   *int64    `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
}

// ConsumeUsage adds quantity to the metric counter of the current billing
// period. A plan feature with an integer value named like the metric caps the
// counter; a consumption that would pass the cap is rejected and not counted.
func (s *Service) ConsumeUsage(ctx context.Context, userID uint, audience models.Audience, metric string, quantity int64) (*Usage, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return nil, apperror.ErrValidation.WithMessage("metric is required")
	}
	if quantity <= 0 {
		return nil, apperror.ErrValidation.WithMessage("quantity must be positive")
	}

	var out *Usage
	err := s.store.Transaction(ctx, func(repos *repository.Repositories) error {
		sub, err := repos.Subscription.FindEntitling(ctx, userID, audience)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.ErrSubscriptionNotFound.WithMessage("no active %s subscription", audience)
		}
		if err != nil {
			return apperror.ErrInternal.Wrap(err)
		}

		total, err := repos.Usage.Increment(ctx, sub.ID, metric, sub.CurrentPeriodStart, quantity)
		if err != nil {
			return apperror.ErrInternal.Wrap(err)
		}
		out = &Usage{Metric: metric, Used: total, PeriodStart: sub.CurrentPeriodStart}

		if sub.Plan == nil {
			return nil
		}
		if limit, ok := entitlements.Limit(sub.Plan.FeatureMap(), metric); ok {
			if total > limit {
				// returning an error rolls the increment back
				return apperror.ErrUsageLimitExceeded.WithMessage("%s limit of %d reached for this period", metric, limit)
			}
			remaining := limit - total
			out.Limit, out.Remaining = &limit, &remaining
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListInvoices returns the invoices of a user, newest first.
func (s *Service) ListInvoices(ctx context.Context, userID uint) ([]models.Invoice, error) {
	invoices, err := s.store.Repos().Invoice.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	return invoices, nil
}

// GetInvoice returns an invoice owned by userID.
func (s *Service) GetInvoice(ctx context.Context, userID, id uint) (*models.Invoice, error) {
	inv, err := s.store.Repos().Invoice.GetByID(ctx, id, false)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if inv.UserID != userID {
		return nil, apperror.ErrInvoiceNotFound
	}
	return inv, nil
}

// InitializePayment opens a gateway checkout for a pending invoice.
func (s *Service) InitializePayment(ctx context.Context, userID, invoiceID uint, gatewayName string) (*ledger.Checkout, error) {
	return s.ledger.InitializePayment(ctx, userID, invoiceID, gatewayName)
}

// ConfirmPayment settles an invoice with the checkout callback of the gateway.
func (s *Service) ConfirmPayment(ctx context.Context, userID uint, p ledger.ConfirmParams) (*ledger.Settlement, error) {
	return s.ledger.ConfirmPayment(ctx, userID, p)
}
