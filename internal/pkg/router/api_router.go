package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PropNest/app/controllers"
	apiv1 "github.com/ManuelReschke/PropNest/internal/api/v1"
	"github.com/ManuelReschke/PropNest/internal/pkg/billing"
	"github.com/ManuelReschke/PropNest/internal/pkg/catalog"
	"github.com/ManuelReschke/PropNest/internal/pkg/gateway"
	"github.com/ManuelReschke/PropNest/internal/pkg/idempotency"
	"github.com/ManuelReschke/PropNest/internal/pkg/middleware"
	"github.com/ManuelReschke/PropNest/internal/pkg/webhook"
)

const webhookPathPrefix = "/api/v1/webhooks/"

// RateLimit configures the /api limiter. Max <= 0 disables it; a nil
// Storage keeps counters in process memory.
type RateLimit struct {
	Max        int
	Expiration time.Duration
	Storage    fiber.Storage
}

// Deps are the services the API routes are served by.
type Deps struct {
	Billing    *billing.Service
	Catalog    *catalog.Catalog
	Reconciler *webhook.Reconciler
	Gateways   *gateway.Registry
	Guard      *idempotency.Guard
	RateLimit  RateLimit
	Logger     *zap.Logger
}

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	var handlers []fiber.Handler
	if h.deps.RateLimit.Max > 0 {
		handlers = append(handlers, limiter.New(limiter.Config{
			Max:        h.deps.RateLimit.Max,
			Expiration: h.deps.RateLimit.Expiration,
			Storage:    h.deps.RateLimit.Storage,
			// gateways retry from a few addresses; throttling them delays settlement
			Next: func(c *fiber.Ctx) bool {
				return strings.HasPrefix(c.Path(), webhookPathPrefix)
			},
			LimitReached: func(c *fiber.Ctx) error {
				return fiber.NewError(fiber.StatusTooManyRequests, "too many requests")
			},
		}))
	}
	api := app.Group("/api", handlers...)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return controllers.Respond(ctx, fiber.StatusOK, fiber.Map{
			"message": "PropNest billing api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(
		controllers.NewCatalogController(h.deps.Catalog),
		controllers.NewSubscriptionController(h.deps.Billing),
		controllers.NewBillingController(h.deps.Billing),
		controllers.NewWebhookController(h.deps.Reconciler, h.deps.Gateways, h.deps.Logger),
	)
	apiv1.RegisterHandlers(v1, apiServer, apiv1.Options{
		Authenticate: middleware.RequireIdentity,
		Idempotent:   middleware.Idempotency(h.deps.Guard, h.deps.Logger),
	})
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
