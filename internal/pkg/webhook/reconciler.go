package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/gateway"
	"github.com/ManuelReschke/PropNest/internal/pkg/ledger"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
	"github.com/ManuelReschke/PropNest/internal/pkg/subscription"
	"github.com/ManuelReschke/PropNest/internal/pkg/utils"
)

// Delivery is one webhook request as received.
type Delivery struct {
	Gateway   string
	Body      []byte
	Signature string
	// EventID is the delivery id from the request headers, if present.
	EventID string
}

// Outcome describes how a verified delivery was handled. Dispatch failures
// are reported here and in the audit log, never as an error.
type Outcome struct {
	EventID       string
	EventType     string
	Duplicate     bool
	DispatchError string
}

// Reconciler applies gateway notifications to local billing state.
type Reconciler struct {
	store    repository.Store
	gateways *gateway.Registry
	ledger   *ledger.Ledger
	subs     *subscription.Manager
	log      *zap.Logger
}

func NewReconciler(store repository.Store, gateways *gateway.Registry, l *ledger.Ledger, subs *subscription.Manager, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, gateways: gateways, ledger: l, subs: subs, log: logger.OrNop(log)}
}

// Handle verifies and records a delivery, then dispatches it once. Unverified
// payloads are rejected before anything is stored. A delivery whose event id
// was already processed is acknowledged without being applied again.
func (r *Reconciler) Handle(ctx context.Context, d Delivery) (*Outcome, error) {
	name := strings.ToLower(strings.TrimSpace(d.Gateway))
	client, err := r.gateways.Get(name)
	if err != nil || name == "" {
		return nil, apperror.ErrUnsupportedGateway.WithMessage("unsupported payment gateway %q", d.Gateway)
	}
	if !client.VerifyWebhookSignature(d.Body, d.Signature) {
		r.log.Warn("webhook signature mismatch", zap.String("gateway", name), zap.Int("bytes", len(d.Body)))
		return nil, apperror.ErrInvalidSignature
	}

	ev, err := Parse(d.Body)
	if err != nil {
		r.log.Warn("webhook payload rejected", zap.String("gateway", name), zap.Error(err))
		return nil, apperror.ErrValidation.WithMessage("%v", err)
	}

	eventID := strings.TrimSpace(d.EventID)
	if eventID == "" {
		eventID = ev.ID()
	}
	if eventID == "" {
		sum := sha256.Sum256(d.Body)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	out := &Outcome{EventID: eventID, EventType: ev.Type()}
	created, stored, err := r.store.Repos().WebhookEvent.CreateIfNotExists(ctx, &models.WebhookEvent{
		Gateway:   name,
		EventID:   eventID,
		EventType: ev.Type(),
		Payload:   datatypes.JSON(d.Body),
		Signature: utils.Truncate(d.Signature, 255),
	})
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if !created && stored.Processed() {
		out.Duplicate = true
		r.log.Info("duplicate webhook delivery acknowledged",
			zap.String("gateway", name), zap.String("event_id", eventID))
		return out, nil
	}

	var paid *models.Invoice
	err = r.store.Transaction(ctx, func(repos *repository.Repositories) error {
		current, err := repos.WebhookEvent.Find(ctx, name, eventID)
		if err != nil {
			return err
		}
		if current.Processed() {
			out.Duplicate = true
			return nil
		}
		if paid, err = r.dispatch(ctx, repos, name, ev); err != nil {
			return err
		}
		return repos.WebhookEvent.MarkProcessed(ctx, stored.ID, "")
	})
	if err != nil {
		out.DispatchError = err.Error()
		r.log.Error("webhook dispatch failed",
			zap.String("gateway", name),
			zap.String("event_id", eventID),
			zap.String("event_type", ev.Type()),
			zap.Error(err))
		if markErr := r.store.Repos().WebhookEvent.MarkProcessed(ctx, stored.ID, out.DispatchError); markErr != nil {
			r.log.Error("failed to mark webhook event", zap.Uint("webhook_event_id", stored.ID), zap.Error(markErr))
		}
		return out, nil
	}

	r.ledger.Archive(ctx, paid)
	return out, nil
}

func (r *Reconciler) dispatch(ctx context.Context, repos *repository.Repositories, gatewayName string, ev Event) (*models.Invoice, error) {
	switch e := ev.(type) {
	case PaymentCaptured:
		return r.ledger.CaptureByOrder(ctx, repos, gatewayName, ledger.GatewayCapture{
			OrderID:   e.OrderID,
			PaymentID: e.PaymentID,
			Amount:    e.Amount,
			Currency:  e.Currency,
		})

	case PaymentFailed:
		return nil, r.ledger.FailByOrder(ctx, repos, gatewayName, e.OrderID, e.PaymentID, e.Reason)

	case SubscriptionCharged:
		r.log.Info("recurring charge recorded",
			zap.String("gateway", gatewayName),
			zap.String("gateway_subscription_id", e.SubscriptionID),
			zap.String("payment_id", e.PaymentID))
		if _, err := r.subscription(ctx, repos, gatewayName, e.SubscriptionID, e.OrderID); err != nil &&
			!errors.Is(err, apperror.ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, nil

	case SubscriptionChargeFailed:
		sub, err := r.subscription(ctx, repos, gatewayName, e.SubscriptionID, e.OrderID)
		if err != nil {
			return nil, err
		}
		return nil, r.subs.MarkPastDue(ctx, repos.Subscription, sub)

	case SubscriptionCancelled:
		sub, err := r.subscription(ctx, repos, gatewayName, e.SubscriptionID, "")
		if err != nil {
			return nil, err
		}
		return nil, r.subs.CancelFromGateway(ctx, repos.Subscription, sub)

	case Incomplete:
		return nil, apperror.ErrValidation.WithMessage("%s", e.Reason)

	case Unknown:
		r.log.Debug("ignoring webhook event", zap.String("gateway", gatewayName), zap.String("event_type", e.Type()))
		return nil, nil

	default:
		return nil, nil
	}
}

// subscription finds the local subscription for a gateway subscription id.
// When none is linked yet and the event names the order it was paid through,
// the subscription behind that order is linked and returned.
func (r *Reconciler) subscription(ctx context.Context, repos *repository.Repositories, gatewayName, gatewaySubID, orderID string) (*models.Subscription, error) {
	sub, err := repos.Subscription.FindByGatewaySubscriptionID(ctx, gatewayName, gatewaySubID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	notFound := apperror.ErrSubscriptionNotFound.WithMessage("no subscription for %s id %s", gatewayName, gatewaySubID)
	if orderID == "" {
		return nil, notFound
	}

	payment, err := repos.Payment.FindByGatewayOrderID(ctx, gatewayName, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	inv, err := repos.Invoice.GetByID(ctx, payment.InvoiceID, false)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	sub, err = repos.Subscription.GetByID(ctx, inv.SubscriptionID, true)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if sub.GatewaySubscriptionID != nil {
		// already linked to another gateway subscription
		return nil, notFound
	}
	if err := r.subs.LinkGatewaySubscription(ctx, repos.Subscription, sub, gatewaySubID); err != nil {
		return nil, err
	}
	return sub, nil
}
