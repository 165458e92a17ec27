package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep behavior consistent
	"github.com/ManuelReschke/PropNest/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	catalog       *controllers.CatalogController
	subscriptions *controllers.SubscriptionController
	billing       *controllers.BillingController
	webhooks      *controllers.WebhookController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(catalog *controllers.CatalogController, subscriptions *controllers.SubscriptionController, billing *controllers.BillingController, webhooks *controllers.WebhookController) *APIServer {
	return &APIServer{catalog: catalog, subscriptions: subscriptions, billing: billing, webhooks: webhooks}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return controllers.Respond(c, fiber.StatusOK, Pong{Ping: "pong"})
}

func (s *APIServer) ListPlans(c *fiber.Ctx) error {
	return s.catalog.HandleListPlans(c)
}

func (s *APIServer) GetPlan(c *fiber.Ctx, code string) error {
	return s.catalog.HandleGetPlan(c, code)
}

// PostWebhook is public; deliveries are authenticated by their signature.
func (s *APIServer) PostWebhook(c *fiber.Ctx, gateway string) error {
	return s.webhooks.HandleWebhook(c, gateway)
}

func (s *APIServer) CreateSubscription(c *fiber.Ctx) error {
	return s.subscriptions.HandleSubscribe(c)
}

func (s *APIServer) ListSubscriptions(c *fiber.Ctx) error {
	return s.subscriptions.HandleListSubscriptions(c)
}

func (s *APIServer) GetSubscription(c *fiber.Ctx, id uint) error {
	return s.subscriptions.HandleGetSubscription(c, id)
}

func (s *APIServer) CancelSubscription(c *fiber.Ctx, id uint) error {
	return s.subscriptions.HandleCancel(c, id)
}

func (s *APIServer) PauseSubscription(c *fiber.Ctx, id uint) error {
	return s.subscriptions.HandlePause(c, id)
}

func (s *APIServer) ResumeSubscription(c *fiber.Ctx, id uint) error {
	return s.subscriptions.HandleResume(c, id)
}

func (s *APIServer) GetEntitlements(c *fiber.Ctx) error {
	return s.subscriptions.HandleEntitlements(c)
}

func (s *APIServer) ConsumeUsage(c *fiber.Ctx) error {
	return s.subscriptions.HandleConsumeUsage(c)
}

func (s *APIServer) ListInvoices(c *fiber.Ctx) error {
	return s.billing.HandleListInvoices(c)
}

func (s *APIServer) GetInvoice(c *fiber.Ctx, id uint) error {
	return s.billing.HandleGetInvoice(c, id)
}

func (s *APIServer) InitPayment(c *fiber.Ctx) error {
	return s.billing.HandleInitPayment(c)
}

func (s *APIServer) ConfirmPayment(c *fiber.Ctx) error {
	return s.billing.HandleConfirmPayment(c)
}
