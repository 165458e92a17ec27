package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropNest/internal/pkg/billing"
	"github.com/ManuelReschke/PropNest/internal/pkg/ledger"
)

// BillingController serves invoices and payments of the authenticated user.
type BillingController struct {
	billing *billing.Service
}

func NewBillingController(s *billing.Service) *BillingController {
	return &BillingController{billing: s}
}

type initPaymentRequest struct {
	InvoiceID uint   `json:"invoice_id" validate:"required,min=1"`
	Gateway   string `json:"gateway" validate:"omitempty,max=32"`
}

// gatewayPayload is what the checkout widget hands back after payment. The
// Razorpay widget prefixes its fields, other gateways use the plain names.
type gatewayPayload struct {
	OrderID           string `json:"order_id"`
	PaymentID         string `json:"payment_id"`
	Signature         string `json:"signature"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (p gatewayPayload) normalize() (orderID, paymentID, signature string) {
	return firstNonEmpty(p.OrderID, p.RazorpayOrderID),
		firstNonEmpty(p.PaymentID, p.RazorpayPaymentID),
		firstNonEmpty(p.Signature, p.RazorpaySignature)
}

type confirmPaymentRequest struct {
	InvoiceID          uint            `json:"invoice_id" validate:"required,min=1"`
	Gateway            string          `json:"gateway" validate:"required,max=32"`
	PayloadFromGateway *gatewayPayload `json:"payload_from_gateway" validate:"required"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (bc *BillingController) HandleListInvoices(c *fiber.Ctx) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	invoices, err := bc.billing.ListInvoices(c.UserContext(), id.UserID)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, invoices)
}

func (bc *BillingController) HandleGetInvoice(c *fiber.Ctx, invoiceID uint) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	inv, err := bc.billing.GetInvoice(c.UserContext(), id.UserID, invoiceID)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, inv)
}

// HandleInitPayment opens a gateway order for a pending invoice.
func (bc *BillingController) HandleInitPayment(c *fiber.Ctx) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req initPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	co, err := bc.billing.InitializePayment(c.UserContext(), id.UserID, req.InvoiceID, req.Gateway)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusCreated, co)
}

// HandleConfirmPayment verifies the checkout callback and settles the invoice.
func (bc *BillingController) HandleConfirmPayment(c *fiber.Ctx) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req confirmPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	orderID, paymentID, signature := req.PayloadFromGateway.normalize()
	st, err := bc.billing.ConfirmPayment(c.UserContext(), id.UserID, ledger.ConfirmParams{
		InvoiceID: req.InvoiceID,
		Gateway:   req.Gateway,
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: signature,
	})
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, st)
}
