package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Order is a gateway side order a checkout is opened against.
type Order struct {
	ID       string          `json:"id"`
	Gateway  string          `json:"gateway"`
	KeyID    string          `json:"key_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
}

// Client is the payment gateway as seen by the ledger.
type Client interface {
	Name() string
	// KeyID is the public key a checkout form is opened with.
	KeyID() string
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Order, error)
	// VerifyPaymentSignature checks the checkout callback signature over
	// orderID + "|" + paymentID.
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	// VerifyWebhookSignature checks the signature over the raw webhook body.
	VerifyWebhookSignature(body []byte, signature string) bool
	// SignatureHeader is the request header carrying webhook signatures.
	SignatureHeader() string
	// EventIDHeader is the request header carrying the delivery id, if any.
	EventIDHeader() string
}

// Registry resolves configured gateways by name.
type Registry struct {
	clients  map[string]Client
	fallback string
}

func NewRegistry(fallback string, clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients)), fallback: fallback}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Get returns the named gateway. An empty name resolves to the default.
func (r *Registry) Get(name string) (Client, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.fallback
	}
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("gateway %q is not configured", name)
	}
	return c, nil
}

// Default returns the name of the default gateway.
func (r *Registry) Default() string {
	return r.fallback
}

// Names lists the configured gateways.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MinorUnits converts an amount to the smallest currency unit. Every supported
// currency has two decimals.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
