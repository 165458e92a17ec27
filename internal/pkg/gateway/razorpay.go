package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PropNest/internal/pkg/config"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com"

type RazorpayClient struct {
	PublicKey     string
	KeySecret     string
	WebhookSecret string
	BaseURL       string

	HTTPClient *http.Client
}

func NewRazorpayClient(creds config.GatewayCredentials) *RazorpayClient {
	base := strings.TrimSpace(creds.BaseURL)
	if base == "" {
		base = defaultRazorpayBaseURL
	}
	return &RazorpayClient{
		PublicKey:     strings.TrimSpace(creds.KeyID),
		KeySecret:     strings.TrimSpace(creds.KeySecret),
		WebhookSecret: strings.TrimSpace(creds.WebhookSecret),
		BaseURL:       strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *RazorpayClient) Name() string { return config.GatewayRazorpay }

func (c *RazorpayClient) KeyID() string { return c.PublicKey }

func (c *RazorpayClient) SignatureHeader() string { return "X-Razorpay-Signature" }

func (c *RazorpayClient) EventIDHeader() string { return "X-Razorpay-Event-Id" }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateOrder creates an order for amount. The receipt is taken from the
// "receipt" metadata entry; all metadata is sent as notes.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Order, error) {
	if c.PublicKey == "" || c.KeySecret == "" {
		return nil, errors.New("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("order amount must be positive, got %s", amount)
	}

	payload, err := json.Marshal(razorpayOrderRequest{
		Amount:   MinorUnits(amount),
		Currency: strings.ToUpper(currency),
		Receipt:  metadata["receipt"],
		Notes:    metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.PublicKey, c.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("razorpay order creation failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out razorpayOrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("razorpay order creation returned empty id")
	}
	return &Order{
		ID:       out.ID,
		Gateway:  c.Name(),
		KeyID:    c.PublicKey,
		Amount:   decimal.New(out.Amount, -2),
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
	}, nil
}

func (c *RazorpayClient) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return VerifySignature(c.KeySecret, PaymentSignaturePayload(orderID, paymentID), signature)
}

func (c *RazorpayClient) VerifyWebhookSignature(body []byte, signature string) bool {
	return VerifySignature(c.WebhookSecret, body, signature)
}
