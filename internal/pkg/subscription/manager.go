package subscription

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
)

// DeferredStart is how far the period start moves when a subscription does
// not start right away.
const DeferredStart = 24 * time.Hour

// CreateParams describes a new subscription. Nil overrides fall back to the
// plan defaults.
type CreateParams struct {
	UserID       uint
	Audience     models.Audience
	Plan         *models.Plan
	BillingCycle *models.BillingCycle
	TrialDays    *int
	StartNow     bool
	Gateway      string
	CouponID     *uint
}

// Manager owns the subscription state machine. All methods work on the
// repository they are given so callers control the transaction.
type Manager struct {
	now func() time.Time
	log *zap.Logger
}

func NewManager(now func() time.Time, log *zap.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{now: now, log: logger.OrNop(log)}
}

// Create starts a subscription. It fails with ErrActiveSubscriptionExists
// while the user already has a live subscription for the audience.
func (m *Manager) Create(ctx context.Context, subs repository.SubscriptionRepository, p CreateParams) (*models.Subscription, error) {
	if p.Plan == nil {
		return nil, apperror.ErrPlanNotFound
	}
	if !p.Audience.CanBuy(p.Plan.Audience) {
		return nil, apperror.ErrInvalidAudience
	}

	_, err := subs.FindLive(ctx, p.UserID, p.Audience)
	if err == nil {
		return nil, apperror.ErrActiveSubscriptionExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrInternal.Wrap(err)
	}

	cycle := p.Plan.BillingCycle
	if p.BillingCycle != nil {
		cycle = *p.BillingCycle
	}
	trialDays := p.Plan.TrialDays
	if p.TrialDays != nil {
		trialDays = *p.TrialDays
	}
	if trialDays < 0 {
		return nil, apperror.ErrValidation.WithMessage("trial days must not be negative")
	}

	now := m.now().UTC()
	start := now
	if !p.StartNow {
		start = now.Add(DeferredStart)
	}

	sub := &models.Subscription{
		UserID:             p.UserID,
		Audience:           p.Audience,
		PlanID:             p.Plan.ID,
		Status:             models.SubscriptionStatusActive,
		BillingCycle:       cycle,
		CurrentPeriodStart: start,
		ProrationBehavior:  models.ProrationCreateProrations,
		Gateway:            p.Gateway,
		CouponID:           p.CouponID,
	}
	if length, ok := cycle.PeriodLength(); ok {
		end := start.Add(length)
		sub.CurrentPeriodEnd = &end
	}
	if trialDays > 0 {
		trialEnd := start.AddDate(0, 0, trialDays)
		sub.Status = models.SubscriptionStatusTrialing
		sub.TrialEndsAt = &trialEnd
	}

	if err := subs.Create(ctx, sub); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperror.ErrActiveSubscriptionExists
		}
		return nil, apperror.ErrInternal.Wrap(err)
	}
	sub.Plan = p.Plan
	m.log.Info("subscription created",
		zap.Uint("subscription_id", sub.ID),
		zap.Uint("user_id", sub.UserID),
		zap.String("plan", p.Plan.Code),
		zap.String("status", string(sub.Status)))
	return sub, nil
}

// Pause moves an active subscription to paused. resumeAt, when given, must
// lie in the future.
func (m *Manager) Pause(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription, resumeAt *time.Time) error {
	now := m.now().UTC()
	if sub.BillingCycle == models.BillingCycleOneTime {
		return apperror.ErrInvalidStateTransition.WithMessage("one-time subscriptions cannot be paused")
	}
	if resumeAt != nil && !resumeAt.After(now) {
		return apperror.ErrValidation.WithMessage("resume_at must be in the future")
	}
	return m.fire(ctx, subs, sub, EventPause, func(s *models.Subscription) {
		s.PausedAt = &now
		s.ResumeAt = resumeAt
	})
}

// Resume moves a paused subscription back to active.
func (m *Manager) Resume(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription) error {
	return m.fire(ctx, subs, sub, EventResume, func(s *models.Subscription) {
		s.PausedAt = nil
		s.ResumeAt = nil
	})
}

// Cancel ends a subscription now, or flags it to end with the current period.
// Subscriptions without a period end are always canceled right away.
func (m *Manager) Cancel(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription, atPeriodEnd bool) error {
	now := m.now().UTC()
	if atPeriodEnd && sub.CurrentPeriodEnd != nil {
		return m.fire(ctx, subs, sub, EventScheduleCancel, func(s *models.Subscription) {
			s.CancelAtPeriodEnd = true
		})
	}
	return m.fire(ctx, subs, sub, EventCancel, func(s *models.Subscription) {
		s.CanceledAt = &now
	})
}

// Activate is applied when a payment for the subscription was captured. It
// reports whether the status changed. Statuses a payment cannot revive, such
// as paused or canceled, are left alone.
func (m *Manager) Activate(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription) (bool, error) {
	if !Can(sub.Status, EventActivate) || sub.Status == models.SubscriptionStatusActive {
		return false, nil
	}
	if err := m.fire(ctx, subs, sub, EventActivate, nil); err != nil {
		return false, err
	}
	return true, nil
}

// MarkPastDue records a failed recurring charge.
func (m *Manager) MarkPastDue(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription) error {
	if sub.Status == models.SubscriptionStatusPastDue {
		return nil
	}
	return m.fire(ctx, subs, sub, EventChargeFailed, nil)
}

// CancelFromGateway applies a cancellation reported by the gateway,
// whatever the current status.
func (m *Manager) CancelFromGateway(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription) error {
	if sub.Status == models.SubscriptionStatusCanceled {
		return nil
	}
	now := m.now().UTC()
	return m.fire(ctx, subs, sub, EventGatewayCancel, func(s *models.Subscription) {
		s.CanceledAt = &now
	})
}

// LinkGatewaySubscription records the id the gateway uses for sub. A
// subscription keeps the first id it was linked to.
func (m *Manager) LinkGatewaySubscription(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription, gatewaySubscriptionID string) error {
	if gatewaySubscriptionID == "" || sub.GatewaySubscriptionID != nil {
		return nil
	}
	next := *sub
	next.GatewaySubscriptionID = &gatewaySubscriptionID
	if err := subs.Save(ctx, &next); err != nil {
		return apperror.ErrInternal.Wrap(err)
	}
	*sub = next
	m.log.Info("gateway subscription linked",
		zap.Uint("subscription_id", sub.ID),
		zap.String("gateway_subscription_id", gatewaySubscriptionID))
	return nil
}

func (m *Manager) fire(ctx context.Context, subs repository.SubscriptionRepository, sub *models.Subscription, event Event, apply func(s *models.Subscription)) error {
	from := sub.Status
	to, ok := Next(from, event)
	if !ok {
		return apperror.ErrInvalidStateTransition.WithMessage("cannot %s a subscription that is %s", humanize(event), from)
	}

	next := *sub
	next.Status = to
	if apply != nil {
		apply(&next)
	}
	if err := subs.Save(ctx, &next); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.ErrActiveSubscriptionExists
		}
		return apperror.ErrInternal.Wrap(err)
	}
	*sub = next

	m.log.Info("subscription transition",
		zap.Uint("subscription_id", sub.ID),
		zap.String("event", string(event)),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func humanize(e Event) string {
	switch e {
	case EventScheduleCancel:
		return "schedule cancellation of"
	case EventChargeFailed:
		return "mark as past due"
	case EventGatewayCancel:
		return "cancel"
	default:
		return string(e)
	}
}
