package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/ManuelReschke/PropNest/app/models"
	"gorm.io/gorm"
)

// plans

type planRepo struct{ base }

func (r *planRepo) Create(_ context.Context, plan *models.Plan) error {
	defer r.lock()()
	st := r.state()
	for _, p := range st.plans {
		if p.Code == plan.Code {
			return gorm.ErrDuplicatedKey
		}
	}
	now := r.now()
	plan.ID = st.nextID("plans")
	plan.CreatedAt, plan.UpdatedAt = now, now
	features := slices.Clone(plan.Features)
	seen := make(map[string]bool, len(features))
	for i := range features {
		if seen[features[i].FeatureKey] {
			return gorm.ErrDuplicatedKey
		}
		seen[features[i].FeatureKey] = true
		features[i].ID = st.nextID("plan_features")
		features[i].PlanID = plan.ID
		features[i].CreatedAt = now
	}
	plan.Features = features
	stored := *plan
	stored.Features = slices.Clone(features)
	st.plans[plan.ID] = stored
	return nil
}

func (r *planRepo) GetByID(_ context.Context, id uint) (*models.Plan, error) {
	defer r.lock()()
	p, ok := r.state().plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyPlan(p), nil
}

func (r *planRepo) FindPublishedByCode(_ context.Context, code string) (*models.Plan, error) {
	defer r.lock()()
	for _, p := range r.state().plans {
		if p.Code == code && p.IsPublished {
			return copyPlan(p), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *planRepo) ListPublished(_ context.Context, audiences []models.PlanAudience) ([]models.Plan, error) {
	defer r.lock()()
	var out []models.Plan
	for _, p := range r.state().plans {
		if !p.IsPublished {
			continue
		}
		if len(audiences) > 0 && !slices.Contains(audiences, p.Audience) {
			continue
		}
		out = append(out, *copyPlan(p))
	}
	slices.SortFunc(out, func(a, b models.Plan) int {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func copyPlan(p models.Plan) *models.Plan {
	p.Features = slices.Clone(p.Features)
	return &p
}

// coupons

type couponRepo struct{ base }

func (r *couponRepo) Create(_ context.Context, coupon *models.Coupon) error {
	defer r.lock()()
	st := r.state()
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	for _, c := range st.coupons {
		if c.Code == coupon.Code {
			return gorm.ErrDuplicatedKey
		}
	}
	now := r.now()
	coupon.ID = st.nextID("coupons")
	coupon.CreatedAt, coupon.UpdatedAt = now, now
	st.coupons[coupon.ID] = *coupon
	return nil
}

// FindByCode ignores forUpdate; transactions are already serialized.
func (r *couponRepo) FindByCode(_ context.Context, code string, _ bool) (*models.Coupon, error) {
	defer r.lock()()
	code = models.NormalizeCouponCode(code)
	for _, c := range r.state().coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *couponRepo) CountRedemptions(_ context.Context, couponID uint) (int64, error) {
	defer r.lock()()
	var n int64
	for _, red := range r.state().redemptions {
		if red.CouponID == couponID {
			n++
		}
	}
	return n, nil
}

func (r *couponRepo) CountUserRedemptions(_ context.Context, couponID, userID uint) (int64, error) {
	defer r.lock()()
	var n int64
	for _, red := range r.state().redemptions {
		if red.CouponID == couponID && red.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *couponRepo) CreateRedemption(_ context.Context, redemption *models.CouponRedemption) error {
	defer r.lock()()
	st := r.state()
	redemption.ID = st.nextID("coupon_redemptions")
	if redemption.RedeemedAt.IsZero() {
		redemption.RedeemedAt = r.now()
	}
	st.redemptions = append(st.redemptions, *redemption)
	return nil
}

// subscriptions

type subscriptionRepo struct{ base }

func (r *subscriptionRepo) checkLiveSlot(sub *models.Subscription) error {
	if sub.LiveSlot == nil {
		return nil
	}
	for id, other := range r.state().subs {
		if id != sub.ID && other.LiveSlot != nil && *other.LiveSlot == *sub.LiveSlot {
			return gorm.ErrDuplicatedKey
		}
	}
	return nil
}

func (r *subscriptionRepo) Create(_ context.Context, sub *models.Subscription) error {
	defer r.lock()()
	_ = sub.BeforeSave(nil)
	if err := r.checkLiveSlot(sub); err != nil {
		return err
	}
	st := r.state()
	now := r.now()
	sub.ID = st.nextID("subscriptions")
	sub.CreatedAt, sub.UpdatedAt = now, now
	stored := *sub
	stored.Plan = nil
	st.subs[sub.ID] = stored
	return nil
}

func (r *subscriptionRepo) GetByID(_ context.Context, id uint, _ bool) (*models.Subscription, error) {
	defer r.lock()()
	sub, ok := r.state().subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &sub, nil
}

func (r *subscriptionRepo) ListByUser(_ context.Context, userID uint) ([]models.Subscription, error) {
	defer r.lock()()
	var out []models.Subscription
	for _, sub := range r.state().subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b models.Subscription) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func (r *subscriptionRepo) newest(match func(models.Subscription) bool) (*models.Subscription, bool) {
	var found *models.Subscription
	for _, sub := range r.state().subs {
		if !match(sub) {
			continue
		}
		if found == nil || sub.ID > found.ID {
			s := sub
			found = &s
		}
	}
	return found, found != nil
}

func (r *subscriptionRepo) FindLive(_ context.Context, userID uint, audience models.Audience) (*models.Subscription, error) {
	defer r.lock()()
	sub, ok := r.newest(func(s models.Subscription) bool {
		return s.UserID == userID && s.Audience == audience && s.Status.IsLive()
	})
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (r *subscriptionRepo) FindEntitling(_ context.Context, userID uint, audience models.Audience) (*models.Subscription, error) {
	defer r.lock()()
	sub, ok := r.newest(func(s models.Subscription) bool {
		return s.UserID == userID && s.Audience == audience && s.Status.IsEntitling()
	})
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if p, ok := r.state().plans[sub.PlanID]; ok {
		sub.Plan = copyPlan(p)
	}
	return sub, nil
}

func (r *subscriptionRepo) FindByGatewaySubscriptionID(_ context.Context, gateway, gatewaySubscriptionID string) (*models.Subscription, error) {
	defer r.lock()()
	sub, ok := r.newest(func(s models.Subscription) bool {
		return s.Gateway == gateway && s.GatewaySubscriptionID != nil && *s.GatewaySubscriptionID == gatewaySubscriptionID
	})
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (r *subscriptionRepo) Save(_ context.Context, sub *models.Subscription) error {
	defer r.lock()()
	st := r.state()
	if _, ok := st.subs[sub.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	_ = sub.BeforeSave(nil)
	if err := r.checkLiveSlot(sub); err != nil {
		return err
	}
	sub.UpdatedAt = r.now()
	stored := *sub
	stored.Plan = nil
	st.subs[sub.ID] = stored
	return nil
}

// invoices

type invoiceRepo struct{ base }

func (r *invoiceRepo) Create(_ context.Context, invoice *models.Invoice) error {
	defer r.lock()()
	st := r.state()
	for _, inv := range st.invoices {
		if inv.InvoiceNo == invoice.InvoiceNo {
			return gorm.ErrDuplicatedKey
		}
	}
	now := r.now()
	invoice.ID = st.nextID("invoices")
	invoice.CreatedAt, invoice.UpdatedAt = now, now
	items := slices.Clone(invoice.Items)
	for i := range items {
		items[i].ID = st.nextID("invoice_items")
		items[i].InvoiceID = invoice.ID
		items[i].CreatedAt = now
	}
	invoice.Items = items
	stored := *invoice
	stored.Items = slices.Clone(items)
	st.invoices[invoice.ID] = stored
	return nil
}

func (r *invoiceRepo) GetByID(_ context.Context, id uint, _ bool) (*models.Invoice, error) {
	defer r.lock()()
	inv, ok := r.state().invoices[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	inv.Items = slices.Clone(inv.Items)
	return &inv, nil
}

func (r *invoiceRepo) ListByUser(_ context.Context, userID uint) ([]models.Invoice, error) {
	defer r.lock()()
	var out []models.Invoice
	for _, inv := range r.state().invoices {
		if inv.UserID == userID {
			inv.Items = slices.Clone(inv.Items)
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b models.Invoice) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func (r *invoiceRepo) NextNumber(_ context.Context, sequence string) (uint64, error) {
	defer r.lock()()
	st := r.state()
	value, ok := st.sequences[sequence]
	if !ok {
		value = 1
	}
	st.sequences[sequence] = value + 1
	return value, nil
}

func (r *invoiceRepo) MarkPaid(_ context.Context, id uint, paidAt time.Time) (bool, error) {
	defer r.lock()()
	st := r.state()
	inv, ok := st.invoices[id]
	if !ok || inv.Status != models.InvoiceStatusPending {
		return false, nil
	}
	inv.Status = models.InvoiceStatusPaid
	inv.PaidAt = &paidAt
	inv.UpdatedAt = r.now()
	st.invoices[id] = inv
	return true, nil
}

// payments

type paymentRepo struct{ base }

func (r *paymentRepo) checkOpenSlot(p *models.Payment) error {
	if p.OpenSlot == nil {
		return nil
	}
	for id, other := range r.state().payments {
		if id != p.ID && other.OpenSlot != nil && *other.OpenSlot == *p.OpenSlot {
			return gorm.ErrDuplicatedKey
		}
	}
	return nil
}

func (r *paymentRepo) Create(_ context.Context, payment *models.Payment) error {
	defer r.lock()()
	_ = payment.BeforeSave(nil)
	if err := r.checkOpenSlot(payment); err != nil {
		return err
	}
	st := r.state()
	now := r.now()
	payment.ID = st.nextID("payments")
	payment.CreatedAt, payment.UpdatedAt = now, now
	st.payments[payment.ID] = *payment
	return nil
}

func (r *paymentRepo) GetByID(_ context.Context, id uint) (*models.Payment, error) {
	defer r.lock()()
	p, ok := r.state().payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *paymentRepo) newest(match func(models.Payment) bool) (*models.Payment, error) {
	var found *models.Payment
	for _, p := range r.state().payments {
		if match(p) && (found == nil || p.ID > found.ID) {
			cp := p
			found = &cp
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r *paymentRepo) FindOpenByInvoice(_ context.Context, invoiceID uint) (*models.Payment, error) {
	defer r.lock()()
	return r.newest(func(p models.Payment) bool { return p.InvoiceID == invoiceID && p.Status.IsOpen() })
}

func (r *paymentRepo) FindCapturedByInvoice(_ context.Context, invoiceID uint) (*models.Payment, error) {
	defer r.lock()()
	return r.newest(func(p models.Payment) bool {
		return p.InvoiceID == invoiceID && p.Status == models.PaymentStatusCaptured
	})
}

func (r *paymentRepo) FindByGatewayOrderID(_ context.Context, gateway, orderID string) (*models.Payment, error) {
	defer r.lock()()
	return r.newest(func(p models.Payment) bool { return p.Gateway == gateway && p.GatewayOrderID == orderID })
}

func (r *paymentRepo) Transition(_ context.Context, payment *models.Payment, from ...models.PaymentStatus) (bool, error) {
	defer r.lock()()
	st := r.state()
	stored, ok := st.payments[payment.ID]
	if !ok || !slices.Contains(from, stored.Status) {
		return false, nil
	}
	stored.Status = payment.Status
	stored.GatewayPaymentID = payment.GatewayPaymentID
	stored.FailureReason = payment.FailureReason
	stored.CapturedAt = payment.CapturedAt
	stored.OpenSlot = stored.OpenSlotKey()
	stored.UpdatedAt = r.now()
	st.payments[payment.ID] = stored
	return true, nil
}

// webhook events

type webhookEventRepo struct{ base }

func (r *webhookEventRepo) find(gateway, eventID string) (*models.WebhookEvent, bool) {
	for _, e := range r.state().events {
		if e.Gateway == gateway && e.EventID == eventID {
			return &e, true
		}
	}
	return nil, false
}

func (r *webhookEventRepo) CreateIfNotExists(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	defer r.lock()()
	if stored, ok := r.find(event.Gateway, event.EventID); ok {
		return false, stored, nil
	}
	st := r.state()
	now := r.now()
	event.ID = st.nextID("webhook_events")
	event.CreatedAt, event.UpdatedAt = now, now
	st.events[event.ID] = *event
	stored := *event
	return true, &stored, nil
}

func (r *webhookEventRepo) MarkProcessed(_ context.Context, id uint, processingError string) error {
	defer r.lock()()
	st := r.state()
	e, ok := st.events[id]
	if !ok {
		return nil
	}
	now := r.now()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	e.UpdatedAt = now
	st.events[id] = e
	return nil
}

func (r *webhookEventRepo) Find(_ context.Context, gateway, eventID string) (*models.WebhookEvent, error) {
	defer r.lock()()
	e, ok := r.find(gateway, eventID)
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return e, nil
}

// idempotency records

type idempotencyRepo struct{ base }

func (r *idempotencyRepo) Reserve(_ context.Context, record *models.IdempotencyRecord, now time.Time) (bool, *models.IdempotencyRecord, error) {
	defer r.lock()()
	st := r.state()
	k := idempotencyKey(record.Scope, record.Key)
	if existing, ok := st.idempotency[k]; ok && !existing.Expired(now) {
		return false, &existing, nil
	}
	record.ID = st.nextID("idempotency_records")
	record.CreatedAt, record.UpdatedAt = now, now
	st.idempotency[k] = *record
	stored := *record
	return true, &stored, nil
}

func (r *idempotencyRepo) Complete(_ context.Context, scope, key string, statusCode int, result []byte, expiresAt time.Time) error {
	defer r.lock()()
	st := r.state()
	k := idempotencyKey(scope, key)
	rec, ok := st.idempotency[k]
	if !ok {
		return nil
	}
	rec.State = models.IdempotencyStateCompleted
	rec.StatusCode = statusCode
	rec.Result = slices.Clone(result)
	rec.ExpiresAt = expiresAt
	rec.UpdatedAt = r.now()
	st.idempotency[k] = rec
	return nil
}

func (r *idempotencyRepo) Release(_ context.Context, scope, key string) error {
	defer r.lock()()
	st := r.state()
	k := idempotencyKey(scope, key)
	if rec, ok := st.idempotency[k]; ok && rec.State == models.IdempotencyStateInFlight {
		delete(st.idempotency, k)
	}
	return nil
}

func (r *idempotencyRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for k, rec := range r.state().idempotency {
		if rec.Expired(now) {
			delete(r.state().idempotency, k)
			n++
		}
	}
	return n, nil
}

// usage counters

type usageRepo struct{ base }

func (r *usageRepo) Get(_ context.Context, subscriptionID uint, metric string, periodStart time.Time) (int64, error) {
	defer r.lock()()
	return r.state().usage[usageKey(subscriptionID, metric, periodStart)].Quantity, nil
}

func (r *usageRepo) Increment(_ context.Context, subscriptionID uint, metric string, periodStart time.Time, quantity int64) (int64, error) {
	defer r.lock()()
	st := r.state()
	k := usageKey(subscriptionID, metric, periodStart)
	counter, ok := st.usage[k]
	if !ok {
		counter = models.UsageCounter{
			ID:             st.nextID("usage_counters"),
			SubscriptionID: subscriptionID,
			Metric:         metric,
			PeriodStart:    periodStart,
			CreatedAt:      r.now(),
		}
	}
	counter.Quantity += quantity
	counter.UpdatedAt = r.now()
	st.usage[k] = counter
	return counter.Quantity, nil
}
