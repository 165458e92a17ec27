package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	TypePaymentCaptured       = "payment.captured"
	TypePaymentFailed         = "payment.failed"
	TypeSubscriptionCharged   = "subscription.charged"
	TypeSubscriptionCancelled = "subscription.cancelled"
	// a recurring charge failed and the gateway retries it
	TypeSubscriptionPending = "subscription.pending"
	// all retries of a recurring charge failed
	TypeSubscriptionHalted = "subscription.halted"
)

// ErrMalformedPayload is returned by Parse for bodies that are not JSON.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event is a decoded gateway notification. The set of implementations is
// closed; anything not recognized decodes to Unknown.
type Event interface {
	Type() string
	// ID is the event id carried in the body, if any.
	ID() string
	event()
}

type meta struct {
	id        string
	eventType string
}

func (m meta) Type() string { return m.eventType }
func (m meta) ID() string { return m.id }
func (meta) event() {}

type PaymentCaptured struct {
	meta
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
}

type PaymentFailed struct {
	meta
	OrderID   string
	PaymentID string
	Reason    string
}

// SubscriptionCharged is kept for the audit log. Its order id links the
// gateway subscription to the local one paid through that order.
type SubscriptionCharged struct {
	meta
	SubscriptionID string
	PaymentID      string
	OrderID        string
}

// SubscriptionChargeFailed moves the subscription to past due.
type SubscriptionChargeFailed struct {
	meta
	SubscriptionID string
	OrderID        string
}

type SubscriptionCancelled struct {
	meta
	SubscriptionID string
}

type Unknown struct {
	meta
}

// Incomplete is a known event type without the entity it acts on. It is
// stored like any other delivery and fails dispatch with Reason.
type Incomplete struct {
	meta
	Reason string
}

type envelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Subscription *struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type subscriptionEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Parse decodes a webhook body. Only bodies that are not JSON are an error;
// known types missing their entity decode to Incomplete, unknown types to
// Unknown.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	m := meta{id: strings.TrimSpace(env.ID), eventType: strings.ToLower(strings.TrimSpace(env.Event))}

	var payment *paymentEntity
	if env.Payload.Payment != nil {
		payment = &env.Payload.Payment.Entity
	}

	switch m.eventType {
	case TypePaymentCaptured, TypePaymentFailed:
		if payment == nil || payment.OrderID == "" {
			return Incomplete{meta: m, Reason: m.eventType + " event without payment order id"}, nil
		}
		if m.eventType == TypePaymentFailed {
			reason := strings.TrimSpace(payment.ErrorDescription)
			if reason == "" {
				reason = strings.TrimSpace(payment.ErrorCode)
			}
			if reason == "" {
				reason = "Payment failed at gateway"
			}
			return PaymentFailed{meta: m, OrderID: payment.OrderID, PaymentID: payment.ID, Reason: reason}, nil
		}
		return PaymentCaptured{
			meta:      m,
			OrderID:   payment.OrderID,
			PaymentID: payment.ID,
			Amount:    decimal.New(payment.Amount, -2),
			Currency:  strings.ToUpper(payment.Currency),
		}, nil

	case TypeSubscriptionCharged, TypeSubscriptionCancelled, TypeSubscriptionPending, TypeSubscriptionHalted:
		if env.Payload.Subscription == nil || env.Payload.Subscription.Entity.ID == "" {
			return Incomplete{meta: m, Reason: m.eventType + " event without subscription id"}, nil
		}
		subID := env.Payload.Subscription.Entity.ID
		var paymentID, orderID string
		if payment != nil {
			paymentID, orderID = payment.ID, payment.OrderID
		}
		switch m.eventType {
		case TypeSubscriptionCancelled:
			return SubscriptionCancelled{meta: m, SubscriptionID: subID}, nil
		case TypeSubscriptionCharged:
			return SubscriptionCharged{meta: m, SubscriptionID: subID, PaymentID: paymentID, OrderID: orderID}, nil
		default:
			return SubscriptionChargeFailed{meta: m, SubscriptionID: subID, OrderID: orderID}, nil
		}

	default:
		return Unknown{meta: m}, nil
	}
}
