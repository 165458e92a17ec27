package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PropNest/internal/pkg/config"
)

// SandboxClient creates orders in process. It signs exactly like the HTTP
// gateway so checkout and webhook flows can be exercised end to end.
type SandboxClient struct {
	PublicKey     string
	KeySecret     string
	WebhookSecret string

	// FailWith makes CreateOrder fail, for testing upstream errors.
	FailWith error
}

func NewSandboxClient(creds config.GatewayCredentials) *SandboxClient {
	return &SandboxClient{
		PublicKey:     creds.KeyID,
		KeySecret:     creds.KeySecret,
		WebhookSecret: creds.WebhookSecret,
	}
}

func (c *SandboxClient) Name() string { return config.GatewaySandbox }

func (c *SandboxClient) KeyID() string { return c.PublicKey }

func (c *SandboxClient) SignatureHeader() string { return "X-Sandbox-Signature" }

func (c *SandboxClient) EventIDHeader() string { return "X-Sandbox-Event-Id" }

func (c *SandboxClient) CreateOrder(_ context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Order, error) {
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("order amount must be positive, got %s", amount)
	}
	return &Order{
		ID:       "order_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Gateway:  c.Name(),
		KeyID:    c.PublicKey,
		Amount:   amount,
		Currency: strings.ToUpper(currency),
		Receipt:  metadata["receipt"],
		Status:   "created",
	}, nil
}

// NewPaymentID returns an id shaped like a gateway payment id.
func (c *SandboxClient) NewPaymentID() string {
	return "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SignPayment returns the checkout callback signature the gateway would send.
func (c *SandboxClient) SignPayment(orderID, paymentID string) string {
	return Sign(c.KeySecret, PaymentSignaturePayload(orderID, paymentID))
}

// SignWebhook returns the signature header value for body.
func (c *SandboxClient) SignWebhook(body []byte) string {
	return Sign(c.WebhookSecret, body)
}

func (c *SandboxClient) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return VerifySignature(c.KeySecret, PaymentSignaturePayload(orderID, paymentID), signature)
}

func (c *SandboxClient) VerifyWebhookSignature(body []byte, signature string) bool {
	return VerifySignature(c.WebhookSecret, body, signature)
}
