package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropNest/internal/pkg/config"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := Sign("whsec", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		want   bool
	}{
		{name: "valid", secret: "whsec", body: body, sig: sig, want: true},
		{name: "upper case hex", secret: "whsec", body: body, sig: strings.ToUpper(sig), want: true},
		{name: "wrong secret", secret: "other", body: body, sig: sig, want: false},
		{name: "tampered body", secret: "whsec", body: []byte(`{"event":"payment.capturee"}`), sig: sig, want: false},
		{name: "empty signature", secret: "whsec", body: body, sig: "", want: false},
		{name: "not hex", secret: "whsec", body: body, sig: "zz", want: false},
		{name: "empty secret", secret: "", body: body, sig: Sign("", body), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, tt.body, tt.sig))
		})
	}
}

func TestSandboxSignaturesRoundTrip(t *testing.T) {
	c := NewSandboxClient(config.GatewayCredentials{KeyID: "key", KeySecret: "secret", WebhookSecret: "whsec"})

	order, err := c.CreateOrder(context.Background(), decimal.RequireFromString("999.50"), "inr", map[string]string{"receipt": "INV-202604-000001"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(order.ID, "order_"))
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "INV-202604-000001", order.Receipt)

	paymentID := c.NewPaymentID()
	sig := c.SignPayment(order.ID, paymentID)
	assert.True(t, c.VerifyPaymentSignature(order.ID, paymentID, sig))
	assert.False(t, c.VerifyPaymentSignature(order.ID, paymentID+"x", sig))

	body := []byte(`{"id":"evt_1"}`)
	assert.True(t, c.VerifyWebhookSignature(body, c.SignWebhook(body)))
	assert.False(t, c.VerifyWebhookSignature(body, c.SignPayment(order.ID, paymentID)))
}

func TestSandboxFailWith(t *testing.T) {
	c := &SandboxClient{FailWith: errors.New("gateway down")}
	_, err := c.CreateOrder(context.Background(), decimal.NewFromInt(10), "INR", nil)
	assert.EqualError(t, err, "gateway down")
}

func TestRazorpayCreateOrder(t *testing.T) {
	var got razorpayOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)

		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_abc","amount":199900,"currency":"INR","receipt":"INV-1","status":"created"}`))
	}))
	defer srv.Close()

	c := NewRazorpayClient(config.GatewayCredentials{KeyID: "rzp_key", KeySecret: "rzp_secret", BaseURL: srv.URL + "/"})
	order, err := c.CreateOrder(context.Background(), decimal.NewFromInt(1999), "inr", map[string]string{"receipt": "INV-1", "invoice_id": "7"})
	require.NoError(t, err)

	assert.Equal(t, int64(199900), got.Amount)
	assert.Equal(t, "INR", got.Currency)
	assert.Equal(t, "INV-1", got.Receipt)
	assert.Equal(t, "7", got.Notes["invoice_id"])

	assert.Equal(t, "order_abc", order.ID)
	assert.Equal(t, config.GatewayRazorpay, order.Gateway)
	assert.Equal(t, "rzp_key", order.KeyID)
	assert.True(t, decimal.NewFromInt(1999).Equal(order.Amount))
}

func TestRazorpayCreateOrderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"description":"amount too small"}}`))
	}))
	defer srv.Close()

	c := NewRazorpayClient(config.GatewayCredentials{KeyID: "k", KeySecret: "s", BaseURL: srv.URL})
	_, err := c.CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Contains(t, err.Error(), "amount too small")

	_, err = NewRazorpayClient(config.GatewayCredentials{BaseURL: srv.URL}).CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", nil)
	assert.ErrorContains(t, err, "not configured")

	_, err = c.CreateOrder(context.Background(), decimal.Zero, "INR", nil)
	assert.ErrorContains(t, err, "must be positive")
}

func TestRegistry(t *testing.T) {
	sandbox := NewSandboxClient(config.GatewayCredentials{})
	razorpay := NewRazorpayClient(config.GatewayCredentials{})
	r := NewRegistry(config.GatewayRazorpay, sandbox, razorpay)

	c, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, config.GatewayRazorpay, c.Name())

	c, err = r.Get(" Sandbox ")
	require.NoError(t, err)
	assert.Equal(t, config.GatewaySandbox, c.Name())

	_, err = r.Get("stripe")
	assert.Error(t, err)
	assert.Equal(t, []string{"razorpay", "sandbox"}, r.Names())
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(99950), MinorUnits(decimal.RequireFromString("999.5")))
	assert.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.005")))
}
