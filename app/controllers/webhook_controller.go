package controllers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/gateway"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
	"github.com/ManuelReschke/PropNest/internal/pkg/webhook"
)

// WebhookController receives gateway notifications.
type WebhookController struct {
	reconciler *webhook.Reconciler
	gateways   *gateway.Registry
	log        *zap.Logger
}

func NewWebhookController(r *webhook.Reconciler, gateways *gateway.Registry, log *zap.Logger) *WebhookController {
	return &WebhookController{reconciler: r, gateways: gateways, log: logger.OrNop(log)}
}

// HandleWebhook verifies and records a delivery. Every verified delivery is
// acknowledged with 200 so the gateway stops retrying, including duplicates
// and deliveries whose dispatch failed.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx, gatewayName string) error {
	client, err := wc.gateways.Get(gatewayName)
	if err != nil {
		return apperror.ErrUnsupportedGateway.WithMessage("%v", err)
	}

	// the body buffer is reused by fasthttp after the handler returns
	body := append([]byte(nil), c.Body()...)
	outcome, err := wc.reconciler.Handle(c.UserContext(), webhook.Delivery{
		Gateway:   client.Name(),
		Body:      body,
		Signature: c.Get(client.SignatureHeader()),
		EventID:   c.Get(client.EventIDHeader()),
	})
	if err != nil {
		return err
	}

	if outcome.DispatchError != "" {
		wc.log.Warn("webhook acknowledged with dispatch error",
			zap.String("gateway", client.Name()),
			zap.String("event_id", outcome.EventID),
			zap.String("event_type", outcome.EventType),
			zap.String("error", outcome.DispatchError))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
