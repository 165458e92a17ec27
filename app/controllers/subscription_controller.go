package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/billing"
	"github.com/ManuelReschke/PropNest/internal/pkg/usercontext"
)

// SubscriptionController serves the subscription lifecycle, entitlements and
// usage metering of the authenticated user.
type SubscriptionController struct {
	billing *billing.Service
}

func NewSubscriptionController(s *billing.Service) *SubscriptionController {
	return &SubscriptionController{billing: s}
}

type subscribeRequest struct {
	PlanCode          string  `json:"plan_code" validate:"required,max=64"`
	BillingCycle      *string `json:"billing_cycle" validate:"omitempty,oneof=monthly quarterly yearly one-time"`
	CouponCode        string  `json:"coupon_code" validate:"omitempty,max=64"`
	TrialOverrideDays *int    `json:"trial_override_days" validate:"omitempty,min=0,max=365"`
	StartNow          *bool   `json:"start_now"`
	PaymentGateway    string  `json:"payment_gateway" validate:"omitempty,max=32"`
}

type cancelRequest struct {
	CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
}

type pauseRequest struct {
	ResumeAt *time.Time `json:"resume_at"`
}

type consumeRequest struct {
	Metric   string `json:"metric" validate:"required,max=100"`
	Quantity int64  `json:"quantity" validate:"required,min=1"`
}

func identity(c *fiber.Ctx) (usercontext.Identity, error) {
	id, ok := usercontext.Get(c)
	if !ok {
		return usercontext.Identity{}, apperror.ErrUnauthorized
	}
	return id, nil
}

// HandleSubscribe purchases a plan and issues its first invoice.
func (sc *SubscriptionController) HandleSubscribe(c *fiber.Ctx) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req subscribeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	params := billing.SubscribeParams{
		UserID:            id.UserID,
		Audience:          id.Audience,
		PlanCode:          req.PlanCode,
		CouponCode:        req.CouponCode,
		TrialOverrideDays: req.TrialOverrideDays,
		StartNow:          req.StartNow == nil || *req.StartNow,
		Gateway:           req.PaymentGateway,
	}
	if req.BillingCycle != nil {
		cycle, err := models.ParseBillingCycle(*req.BillingCycle)
		if err != nil {
			return apperror.ErrValidation.WithMessage("%v", err)
		}
		params.BillingCycle = &cycle
	}

	res, err := sc.billing.Subscribe(c.UserContext(), params)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusCreated, res)
}

func (sc *SubscriptionController) HandleListSubscriptions(c *fiber.Ctx) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	subs, err := sc.billing.ListSubscriptions(c.UserContext(), id.UserID)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, subs)
}

func (sc *SubscriptionController) HandleGetSubscription(c *fiber.Ctx, subscriptionID uint) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	sub, err := sc.billing.GetSubscription(c.UserContext(), id.UserID, subscriptionID)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, sub)
}

// HandleCancel cancels now, or at period end with cancel_at_period_end=true.
func (sc *SubscriptionController) HandleCancel(c *fiber.Ctx, subscriptionID uint) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sub, err := sc.billing.Cancel(c.UserContext(), id.UserID, subscriptionID, req.CancelAtPeriodEnd)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, sub)
}

func (sc *SubscriptionController) HandlePause(c *fiber.Ctx, subscriptionID uint) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req pauseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sub, err := sc.billing.Pause(c.UserContext(), id.UserID, subscriptionID, req.ResumeAt)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, sub)
}

func (sc *SubscriptionController) HandleResume(c *fiber.Ctx, subscriptionID uint) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	sub, err := sc.billing.Resume(c.UserContext(), id.UserID, subscriptionID)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, sub)
}

// HandleEntitlements resolves the feature grants of the caller's audience.
func (sc *SubscriptionController) HandleEntitlements(c *fiber.Ctx) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	ent, err := sc.billing.Entitlements(c.UserContext(), id.UserID, id.Audience)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, ent)
}

func (sc *SubscriptionController) HandleConsumeUsage(c *fiber.Ctx) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req consumeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	usage, err := sc.billing.ConsumeUsage(c.UserContext(), id.UserID, id.Audience, req.Metric, req.Quantity)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, usage)
}
