package apiv1

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
)

// Pong defines model for Pong.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /catalog/plans)
	ListPlans(c *fiber.Ctx) error
	// (GET /catalog/plans/{code})
	GetPlan(c *fiber.Ctx, code string) error
	// (POST /webhooks/{gateway})
	PostWebhook(c *fiber.Ctx, gateway string) error
	// (POST /subscriptions)
	CreateSubscription(c *fiber.Ctx) error
	// (GET /subscriptions)
	ListSubscriptions(c *fiber.Ctx) error
	// (GET /subscriptions/{id})
	GetSubscription(c *fiber.Ctx, id uint) error
	// (POST /subscriptions/{id}/cancel)
	CancelSubscription(c *fiber.Ctx, id uint) error
	// (POST /subscriptions/{id}/pause)
	PauseSubscription(c *fiber.Ctx, id uint) error
	// (POST /subscriptions/{id}/resume)
	ResumeSubscription(c *fiber.Ctx, id uint) error
	// (GET /entitlements)
	GetEntitlements(c *fiber.Ctx) error
	// (POST /usage/consume)
	ConsumeUsage(c *fiber.Ctx) error
	// (GET /me/invoices)
	ListInvoices(c *fiber.Ctx) error
	// (GET /me/invoices/{id})
	GetInvoice(c *fiber.Ctx, id uint) error
	// (POST /me/payments/init)
	InitPayment(c *fiber.Ctx) error
	// (POST /me/payments/confirm)
	ConfirmPayment(c *fiber.Ctx) error
}

// ServerInterfaceWrapper converts path parameters before calling the server.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// Options configure the security and retry middleware of the routes.
type Options struct {
	// Authenticate guards every route except ping, catalog and webhooks.
	Authenticate fiber.Handler
	// Idempotent wraps the mutating routes that honor Idempotency-Key.
	Idempotent fiber.Handler
}

func pass(c *fiber.Ctx) error { return c.Next() }

// RegisterHandlers mounts the v1 routes on router.
func RegisterHandlers(router fiber.Router, si ServerInterface, opts Options) {
	w := &ServerInterfaceWrapper{Handler: si}
	auth, idem := opts.Authenticate, opts.Idempotent
	if auth == nil {
		auth = pass
	}
	if idem == nil {
		idem = pass
	}

	router.Get("/ping", w.GetPing)
	router.Get("/catalog/plans", w.ListPlans)
	router.Get("/catalog/plans/:code", w.GetPlan)
	router.Post("/webhooks/:gateway", w.PostWebhook)

	router.Post("/subscriptions", auth, idem, w.CreateSubscription)
	router.Get("/subscriptions", auth, w.ListSubscriptions)
	router.Get("/subscriptions/:id", auth, w.GetSubscription)
	router.Post("/subscriptions/:id/cancel", auth, w.CancelSubscription)
	router.Post("/subscriptions/:id/pause", auth, w.PauseSubscription)
	router.Post("/subscriptions/:id/resume", auth, w.ResumeSubscription)
	router.Get("/entitlements", auth, w.GetEntitlements)
	router.Post("/usage/consume", auth, w.ConsumeUsage)

	router.Get("/me/invoices", auth, w.ListInvoices)
	router.Get("/me/invoices/:id", auth, w.GetInvoice)
	router.Post("/me/payments/init", auth, idem, w.InitPayment)
	router.Post("/me/payments/confirm", auth, idem, w.ConfirmPayment)
}

func (w *ServerInterfaceWrapper) GetPing(c *fiber.Ctx) error { return w.Handler.GetPing(c) }

func (w *ServerInterfaceWrapper) ListPlans(c *fiber.Ctx) error { return w.Handler.ListPlans(c) }

func (w *ServerInterfaceWrapper) GetPlan(c *fiber.Ctx) error {
	return w.Handler.GetPlan(c, strings.TrimSpace(c.Params("code")))
}

func (w *ServerInterfaceWrapper) PostWebhook(c *fiber.Ctx) error {
	return w.Handler.PostWebhook(c, strings.ToLower(strings.TrimSpace(c.Params("gateway"))))
}

func (w *ServerInterfaceWrapper) CreateSubscription(c *fiber.Ctx) error {
	return w.Handler.CreateSubscription(c)
}

func (w *ServerInterfaceWrapper) ListSubscriptions(c *fiber.Ctx) error {
	return w.Handler.ListSubscriptions(c)
}

func (w *ServerInterfaceWrapper) GetSubscription(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	return w.Handler.GetSubscription(c, id)
}

func (w *ServerInterfaceWrapper) CancelSubscription(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	return w.Handler.CancelSubscription(c, id)
}

func (w *ServerInterfaceWrapper) PauseSubscription(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	return w.Handler.PauseSubscription(c, id)
}

func (w *ServerInterfaceWrapper) ResumeSubscription(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	return w.Handler.ResumeSubscription(c, id)
}

func (w *ServerInterfaceWrapper) GetEntitlements(c *fiber.Ctx) error {
	return w.Handler.GetEntitlements(c)
}

func (w *ServerInterfaceWrapper) ConsumeUsage(c *fiber.Ctx) error { return w.Handler.ConsumeUsage(c) }

func (w *ServerInterfaceWrapper) ListInvoices(c *fiber.Ctx) error { return w.Handler.ListInvoices(c) }

func (w *ServerInterfaceWrapper) GetInvoice(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	return w.Handler.GetInvoice(c, id)
}

func (w *ServerInterfaceWrapper) InitPayment(c *fiber.Ctx) error { return w.Handler.InitPayment(c) }

func (w *ServerInterfaceWrapper) ConfirmPayment(c *fiber.Ctx) error {
	return w.Handler.ConfirmPayment(c)
}

func idParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 || id > uint64(^uint(0)) {
		return 0, apperror.ErrValidation.WithMessage("invalid format for parameter id: %q", c.Params("id"))
	}
	return uint(id), nil
}
