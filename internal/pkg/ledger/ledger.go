package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/archive"
	"github.com/ManuelReschke/PropNest/internal/pkg/gateway"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
	"github.com/ManuelReschke/PropNest/internal/pkg/subscription"
	"github.com/ManuelReschke/PropNest/internal/pkg/utils"
)

const (
	// PaymentTerm is the time between issuing an invoice and its due date.
	PaymentTerm = 7 * 24 * time.Hour

	InvoiceSequence = "invoice"

	ReasonInvalidSignature = "Invalid signature"
)

// Ledger issues invoices and moves payments through the gateway.
type Ledger struct {
	store    repository.Store
	gateways *gateway.Registry
	subs     *subscription.Manager
	archive  archive.Archiver
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithArchiver(a archive.Archiver) Option {
	return func(l *Ledger) { l.archive = a }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = logger.OrNop(log) }
}

func New(store repository.Store, gateways *gateway.Registry, subs *subscription.Manager, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		gateways: gateways,
		subs:     subs,
		archive:  archive.Noop{},
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateInvoiceForSubscription issues the first invoice of a subscription.
// It runs on the caller's repositories so it commits together with the
// subscription. An invoice that sums to zero is issued as paid.
func (l *Ledger) CreateInvoiceForSubscription(ctx context.Context, repos *repository.Repositories, sub *models.Subscription, plan *models.Plan, discount decimal.Decimal) (*models.Invoice, error) {
	if discount.IsNegative() {
		return nil, apperror.ErrValidation.WithMessage("discount must not be negative")
	}
	now := l.now().UTC()

	items := []models.InvoiceItem{{
		Description: fmt.Sprintf("%s (%s)", planLabel(plan), sub.BillingCycle),
		Quantity:    1,
		UnitPrice:   plan.Price,
		LineTotal:   plan.Price,
	}}
	if !plan.SetupFee.IsZero() {
		items = append(items, models.InvoiceItem{
			Description: "Setup fee",
			Quantity:    1,
			UnitPrice:   plan.SetupFee,
			LineTotal:   plan.SetupFee,
		})
	}
	subtotal := plan.Price.Add(plan.SetupFee)

	seq, err := repos.Invoice.NextNumber(ctx, InvoiceSequence)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}

	invoice := &models.Invoice{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		InvoiceNo:      models.FormatInvoiceNo(now, seq),
		Currency:       plan.Currency,
		Subtotal:       subtotal,
		Discount:       discount,
		Tax:            decimal.Zero,
		Total:          models.InvoiceTotal(subtotal, decimal.Zero, discount),
		Status:         models.InvoiceStatusPending,
		DueAt:          now.Add(PaymentTerm),
		Items:          items,
	}
	if invoice.Total.IsZero() {
		invoice.Status = models.InvoiceStatusPaid
		invoice.PaidAt = &now
	}

	if err := repos.Invoice.Create(ctx, invoice); err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	l.log.Info("invoice issued",
		zap.Uint("invoice_id", invoice.ID),
		zap.String("invoice_no", invoice.InvoiceNo),
		zap.Uint("subscription_id", sub.ID),
		zap.String("total", invoice.Total.StringFixed(2)))
	return invoice, nil
}

func planLabel(plan *models.Plan) string {
	if plan.Name != "" {
		return plan.Name
	}
	return plan.Code
}

// Checkout is an open payment together with the gateway order the client
// completes it against.
type Checkout struct {
	Payment *models.Payment `json:"payment"`
	Order   *gateway.Order  `json:"order"`
	Reused  bool            `json:"reused"`
}

// InitializePayment opens a payment for a pending invoice of userID. An
// already open payment on the same gateway is handed out again instead of
// creating a second gateway order.
func (l *Ledger) InitializePayment(ctx context.Context, userID, invoiceID uint, gatewayName string) (*Checkout, error) {
	client, err := l.client(gatewayName)
	if err != nil {
		return nil, err
	}

	var (
		invoice *models.Invoice
		reused  *models.Payment
	)
	err = l.store.Transaction(ctx, func(repos *repository.Repositories) error {
		inv, err := l.payableInvoice(ctx, repos, userID, invoiceID, false)
		if err != nil {
			return err
		}
		invoice = inv
		reused, err = l.openPayment(ctx, repos, inv.ID, client.Name())
		return err
	})
	if err != nil {
		return nil, err
	}
	if reused != nil {
		return l.checkout(client, reused, true), nil
	}

	// The order is created outside of any transaction so no row lock is held
	// during gateway I/O.
	order, err := client.CreateOrder(ctx, invoice.Total, invoice.Currency, map[string]string{
		"receipt":    invoice.InvoiceNo,
		"invoice_id": strconv.FormatUint(uint64(invoice.ID), 10),
		"user_id":    strconv.FormatUint(uint64(userID), 10),
	})
	if err != nil {
		l.log.Error("gateway order creation failed",
			zap.Uint("invoice_id", invoice.ID),
			zap.String("gateway", client.Name()),
			zap.Error(err))
		return nil, apperror.Upstream(err)
	}

	var payment *models.Payment
	err = l.store.Transaction(ctx, func(repos *repository.Repositories) error {
		inv, err := l.payableInvoice(ctx, repos, userID, invoiceID, true)
		if err != nil {
			return err
		}
		existing, err := l.openPayment(ctx, repos, inv.ID, client.Name())
		if err != nil {
			return err
		}
		if existing != nil {
			reused = existing
			return nil
		}

		meta, _ := json.Marshal(order)
		payment = &models.Payment{
			InvoiceID:      inv.ID,
			UserID:         userID,
			Gateway:        client.Name(),
			GatewayOrderID: order.ID,
			Amount:         inv.Total,
			Currency:       inv.Currency,
			Status:         models.PaymentStatusCreated,
			Metadata:       datatypes.JSON(meta),
		}
		if err := repos.Payment.Create(ctx, payment); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				payment = nil
				reused, err = repos.Payment.FindOpenByInvoice(ctx, inv.ID)
				if err == nil {
					return nil
				}
			}
			return apperror.ErrInternal.Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if payment == nil {
		l.log.Warn("gateway order superseded by concurrent initialization",
			zap.Uint("invoice_id", invoice.ID),
			zap.String("order_id", order.ID))
		return l.checkout(client, reused, true), nil
	}

	l.log.Info("payment initialized",
		zap.Uint("payment_id", payment.ID),
		zap.Uint("invoice_id", invoice.ID),
		zap.String("gateway", client.Name()),
		zap.String("order_id", order.ID))
	return &Checkout{Payment: payment, Order: order}, nil
}

func (l *Ledger) checkout(client gateway.Client, p *models.Payment, reused bool) *Checkout {
	return &Checkout{
		Payment: p,
		Order: &gateway.Order{
			ID:       p.GatewayOrderID,
			Gateway:  p.Gateway,
			KeyID:    client.KeyID(),
			Amount:   p.Amount,
			Currency: p.Currency,
			Status:   "created",
		},
		Reused: reused,
	}
}

// openPayment returns the open payment of an invoice if it was opened on
// gatewayName. An open payment on a different gateway is abandoned.
func (l *Ledger) openPayment(ctx context.Context, repos *repository.Repositories, invoiceID uint, gatewayName string) (*models.Payment, error) {
	open, err := repos.Payment.FindOpenByInvoice(ctx, invoiceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if open.Gateway == gatewayName {
		return open, nil
	}

	open.Status = models.PaymentStatusFailed
	open.FailureReason = "Superseded by " + gatewayName
	if _, err := repos.Payment.Transition(ctx, open, models.PaymentStatusCreated, models.PaymentStatusAuthorized); err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	return nil, nil
}

func (l *Ledger) payableInvoice(ctx context.Context, repos *repository.Repositories, userID, invoiceID uint, forUpdate bool) (*models.Invoice, error) {
	inv, err := l.ownedInvoice(ctx, repos, userID, invoiceID, forUpdate)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvoiceStatusPending {
		return nil, apperror.ErrInvoiceNotPayable.WithMessage("invoice %s is %s", inv.InvoiceNo, inv.Status)
	}
	return inv, nil
}

func (l *Ledger) ownedInvoice(ctx context.Context, repos *repository.Repositories, userID, invoiceID uint, forUpdate bool) (*models.Invoice, error) {
	inv, err := repos.Invoice.GetByID(ctx, invoiceID, forUpdate)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if inv.UserID != userID {
		return nil, apperror.ErrInvoiceNotFound
	}
	return inv, nil
}

func (l *Ledger) client(name string) (gateway.Client, error) {
	c, err := l.gateways.Get(name)
	if err != nil {
		return nil, apperror.ErrUnsupportedGateway.WithMessage("%v", err)
	}
	return c, nil
}

// ConfirmParams is the checkout callback the client forwards from the gateway.
type ConfirmParams struct {
	InvoiceID uint
	Gateway   string
	OrderID   string
	PaymentID string
	Signature string
}

// Settlement is the state of an invoice after a confirmation.
type Settlement struct {
	Invoice      *models.Invoice      `json:"invoice"`
	Payment      *models.Payment      `json:"payment"`
	Subscription *models.Subscription `json:"subscription"`
}

// ConfirmPayment verifies the checkout signature and captures the open
// payment of the invoice. Confirming an invoice that is already paid returns
// its current state without a second capture. A signature mismatch fails the
// payment and that failure is kept.
func (l *Ledger) ConfirmPayment(ctx context.Context, userID uint, p ConfirmParams) (*Settlement, error) {
	var (
		result       *Settlement
		badSignature bool
		paidNow      bool
	)
	err := l.store.Transaction(ctx, func(repos *repository.Repositories) error {
		inv, err := l.ownedInvoice(ctx, repos, userID, p.InvoiceID, true)
		if err != nil {
			return err
		}
		if inv.Status == models.InvoiceStatusPaid {
			result, err = l.settlement(ctx, repos, inv)
			return err
		}
		if inv.Status != models.InvoiceStatusPending {
			return apperror.ErrInvoiceNotPayable.WithMessage("invoice %s is %s", inv.InvoiceNo, inv.Status)
		}

		payment, err := repos.Payment.FindOpenByInvoice(ctx, inv.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.ErrPaymentNotFound.WithMessage("invoice %s has no open payment", inv.InvoiceNo)
		}
		if err != nil {
			return apperror.ErrInternal.Wrap(err)
		}
		if p.OrderID != "" && p.OrderID != payment.GatewayOrderID {
			return apperror.ErrPaymentNotFound.WithMessage("no open payment for order %s", p.OrderID)
		}
		if p.Gateway != "" && p.Gateway != payment.Gateway {
			return apperror.ErrUnsupportedGateway.WithMessage("payment was opened on %s", payment.Gateway)
		}
		client, err := l.client(payment.Gateway)
		if err != nil {
			return err
		}

		if !client.VerifyPaymentSignature(payment.GatewayOrderID, p.PaymentID, p.Signature) {
			payment.Status = models.PaymentStatusFailed
			payment.GatewayPaymentID = p.PaymentID
			payment.FailureReason = ReasonInvalidSignature
			if _, err := repos.Payment.Transition(ctx, payment, models.PaymentStatusCreated, models.PaymentStatusAuthorized); err != nil {
				return apperror.ErrInternal.Wrap(err)
			}
			badSignature = true
			return nil
		}

		res, settled, err := l.capture(ctx, repos, inv, payment, p.PaymentID)
		if err != nil {
			return err
		}
		result, paidNow = res, settled
		return nil
	})
	if err != nil {
		return nil, err
	}
	if badSignature {
		l.log.Warn("payment signature mismatch",
			zap.Uint("invoice_id", p.InvoiceID),
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.PaymentID))
		return nil, apperror.ErrInvalidSignature
	}
	if paidNow {
		l.Archive(ctx, result.Invoice)
	}
	return result, nil
}

// GatewayCapture is a capture as reported by the gateway. Amount and
// Currency are informational and zero when the notice omits them.
type GatewayCapture struct {
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
}

// CaptureByOrder applies a capture reported by the gateway. It is safe to run
// before, after or instead of ConfirmPayment. The returned invoice is non-nil
// only when this call moved it to paid. The gateway is authoritative, so an
// amount that differs from the invoice is logged and still settles it.
func (l *Ledger) CaptureByOrder(ctx context.Context, repos *repository.Repositories, gatewayName string, c GatewayCapture) (*models.Invoice, error) {
	payment, err := l.paymentByOrder(ctx, repos, gatewayName, c.OrderID)
	if err != nil {
		return nil, err
	}
	inv, err := repos.Invoice.GetByID(ctx, payment.InvoiceID, true)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	if amountMismatch(inv, c) {
		l.log.Warn("captured amount differs from invoice",
			zap.Uint("invoice_id", inv.ID),
			zap.String("invoice_no", inv.InvoiceNo),
			zap.String("order_id", c.OrderID),
			zap.String("invoice_total", inv.Total.StringFixed(2)),
			zap.String("invoice_currency", inv.Currency),
			zap.String("captured_amount", c.Amount.StringFixed(2)),
			zap.String("captured_currency", c.Currency))
	}

	res, paidNow, err := l.capture(ctx, repos, inv, payment, c.PaymentID)
	if err != nil || !paidNow {
		return nil, err
	}
	return res.Invoice, nil
}

func amountMismatch(inv *models.Invoice, c GatewayCapture) bool {
	if c.Currency != "" && !strings.EqualFold(c.Currency, inv.Currency) {
		return true
	}
	return !c.Amount.IsZero() && !c.Amount.Equal(inv.Total)
}

// FailByOrder records a failed payment reported by the gateway. Payments
// that were already captured stay captured.
func (l *Ledger) FailByOrder(ctx context.Context, repos *repository.Repositories, gatewayName, orderID, paymentID, reason string) error {
	payment, err := l.paymentByOrder(ctx, repos, gatewayName, orderID)
	if err != nil {
		return err
	}
	if !payment.Status.IsOpen() {
		return nil
	}
	payment.Status = models.PaymentStatusFailed
	payment.FailureReason = utils.Truncate(reason, 255)
	if paymentID != "" {
		payment.GatewayPaymentID = paymentID
	}
	if _, err := repos.Payment.Transition(ctx, payment, models.PaymentStatusCreated, models.PaymentStatusAuthorized); err != nil {
		return apperror.ErrInternal.Wrap(err)
	}
	l.log.Info("payment failed", zap.Uint("payment_id", payment.ID), zap.String("reason", payment.FailureReason))
	return nil
}

func (l *Ledger) paymentByOrder(ctx context.Context, repos *repository.Repositories, gatewayName, orderID string) (*models.Payment, error) {
	payment, err := repos.Payment.FindByGatewayOrderID(ctx, gatewayName, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrPaymentNotFound.WithMessage("no payment for %s order %s", gatewayName, orderID)
	}
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	return payment, nil
}

// capture moves payment to captured, the invoice to paid and a trialing or
// past due subscription to active. Each step is conditional on the current
// status, so running it twice changes nothing.
func (l *Ledger) capture(ctx context.Context, repos *repository.Repositories, inv *models.Invoice, payment *models.Payment, paymentID string) (*Settlement, bool, error) {
	now := l.now().UTC()

	if payment.Status != models.PaymentStatusCaptured {
		payment.Status = models.PaymentStatusCaptured
		payment.FailureReason = ""
		payment.CapturedAt = &now
		if paymentID != "" {
			payment.GatewayPaymentID = paymentID
		}
		// a failed payment can still be captured when the gateway says so
		if _, err := repos.Payment.Transition(ctx, payment,
			models.PaymentStatusCreated, models.PaymentStatusAuthorized, models.PaymentStatusFailed); err != nil {
			return nil, false, apperror.ErrInternal.Wrap(err)
		}
	}

	paidNow, err := repos.Invoice.MarkPaid(ctx, inv.ID, now)
	if err != nil {
		return nil, false, apperror.ErrInternal.Wrap(err)
	}
	if err := l.supersedeOpenPayment(ctx, repos, inv.ID, payment.ID); err != nil {
		return nil, false, err
	}

	if paidNow {
		sub, err := repos.Subscription.GetByID(ctx, inv.SubscriptionID, true)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperror.ErrInternal.Wrap(err)
		}
		if sub != nil {
			if _, err := l.subs.Activate(ctx, repos.Subscription, sub); err != nil {
				if !errors.Is(err, apperror.ErrActiveSubscriptionExists) {
					return nil, false, err
				}
				// the user bought a new plan meanwhile; the money is kept, the status is not revived
				l.log.Warn("subscription not reactivated, another live subscription exists",
					zap.Uint("subscription_id", sub.ID),
					zap.Uint("invoice_id", inv.ID))
			}
		}
		l.log.Info("invoice paid",
			zap.Uint("invoice_id", inv.ID),
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Uint("payment_id", payment.ID))
	}

	res, err := l.settlement(ctx, repos, inv)
	if err != nil {
		return nil, false, err
	}
	return res, paidNow, nil
}

// supersedeOpenPayment fails a payment still open on a paid invoice, which
// happens when the gateway captures an older attempt.
func (l *Ledger) supersedeOpenPayment(ctx context.Context, repos *repository.Repositories, invoiceID, capturedID uint) error {
	open, err := repos.Payment.FindOpenByInvoice(ctx, invoiceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return apperror.ErrInternal.Wrap(err)
	}
	if open.ID == capturedID {
		return nil
	}
	open.Status = models.PaymentStatusFailed
	open.FailureReason = fmt.Sprintf("Superseded by captured payment %d", capturedID)
	if _, err := repos.Payment.Transition(ctx, open, models.PaymentStatusCreated, models.PaymentStatusAuthorized); err != nil {
		return apperror.ErrInternal.Wrap(err)
	}
	l.log.Info("open payment superseded", zap.Uint("payment_id", open.ID), zap.Uint("captured_payment_id", capturedID))
	return nil
}

// settlement reloads the current state of a paid invoice.
func (l *Ledger) settlement(ctx context.Context, repos *repository.Repositories, inv *models.Invoice) (*Settlement, error) {
	fresh, err := repos.Invoice.GetByID(ctx, inv.ID, false)
	if err != nil {
		return nil, apperror.ErrInternal.Wrap(err)
	}
	res := &Settlement{Invoice: fresh}

	payment, err := repos.Payment.FindCapturedByInvoice(ctx, inv.ID)
	switch {
	case err == nil:
		res.Payment = payment
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperror.ErrInternal.Wrap(err)
	}

	sub, err := repos.Subscription.GetByID(ctx, inv.SubscriptionID, false)
	switch {
	case err == nil:
		res.Subscription = sub
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperror.ErrInternal.Wrap(err)
	}
	return res, nil
}

// Archive stores a snapshot of a paid invoice. Failures are only logged.
func (l *Ledger) Archive(ctx context.Context, inv *models.Invoice) {
	if inv == nil {
		return
	}
	if err := l.archive.ArchiveInvoice(ctx, inv); err != nil {
		l.log.Error("invoice archive failed", zap.String("invoice_no", inv.InvoiceNo), zap.Error(err))
	}
}
