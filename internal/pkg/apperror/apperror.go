package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how they surface to the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindUnprocessable
	KindUpstream
)

// Stable machine readable error codes.
const (
	CodePlanNotFound             = "PLAN_NOT_FOUND"
	CodeInvalidAudience          = "INVALID_AUDIENCE"
	CodeActiveSubscriptionExists = "ACTIVE_SUBSCRIPTION_EXISTS"
	CodeInvalidCoupon            = "INVALID_COUPON"
	CodeCouponLimitExceeded      = "COUPON_LIMIT_EXCEEDED"
	CodeUserCouponLimitExceeded  = "USER_COUPON_LIMIT_EXCEEDED"
	CodeInvoiceNotFound          = "INVOICE_NOT_FOUND"
	CodeInvalidSignature         = "INVALID_SIGNATURE"
	CodePaymentNotFound          = "PAYMENT_NOT_FOUND"
	CodeSubscriptionNotFound     = "SUBSCRIPTION_NOT_FOUND"
	CodeInvalidStateTransition   = "INVALID_STATE_TRANSITION"
	CodeInvoiceNotPayable        = "INVOICE_NOT_PAYABLE"
	CodeValidation               = "VALIDATION_ERROR"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeUnsupportedGateway       = "UNSUPPORTED_GATEWAY"
	CodeGateway                  = "GATEWAY_ERROR"
	CodeIdempotencyInProgress    = "IDEMPOTENCY_IN_PROGRESS"
	CodeIdempotencyKeyReused     = "IDEMPOTENCY_KEY_REUSED"
	CodeUsageLimitExceeded       = "USAGE_LIMIT_EXCEEDED"
	CodeInternal                 = "INTERNAL_ERROR"
)

// Error is the error type returned by services. Two errors are equal under
// errors.Is when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of e with a different message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Sentinels.
var (
	ErrPlanNotFound             = New(KindNotFound, CodePlanNotFound, "plan not found")
	ErrInvalidAudience          = New(KindValidation, CodeInvalidAudience, "plan is not available for this audience")
	ErrActiveSubscriptionExists = New(KindConflict, CodeActiveSubscriptionExists, "an active subscription already exists for this audience")
	ErrInvalidCoupon            = New(KindValidation, CodeInvalidCoupon, "coupon is invalid or expired")
	ErrCouponLimitExceeded      = New(KindConflict, CodeCouponLimitExceeded, "coupon redemption limit reached")
	ErrUserCouponLimitExceeded  = New(KindConflict, CodeUserCouponLimitExceeded, "coupon already redeemed by this user")
	ErrInvoiceNotFound          = New(KindNotFound, CodeInvoiceNotFound, "invoice not found")
	ErrInvalidSignature         = New(KindValidation, CodeInvalidSignature, "invalid signature")
	ErrPaymentNotFound          = New(KindNotFound, CodePaymentNotFound, "payment not found")
	ErrSubscriptionNotFound     = New(KindNotFound, CodeSubscriptionNotFound, "subscription not found")
	ErrInvalidStateTransition   = New(KindConflict, CodeInvalidStateTransition, "transition not allowed from current status")
	ErrInvoiceNotPayable        = New(KindConflict, CodeInvoiceNotPayable, "invoice is not pending")
	ErrValidation               = New(KindValidation, CodeValidation, "invalid request")
	ErrUnauthorized             = New(KindUnauthorized, CodeUnauthorized, "authentication required")
	ErrUnsupportedGateway       = New(KindValidation, CodeUnsupportedGateway, "unsupported payment gateway")
	ErrGateway                  = New(KindUpstream, CodeGateway, "payment gateway error")
	ErrIdempotencyInProgress    = New(KindConflict, CodeIdempotencyInProgress, "a request with this idempotency key is still in progress")
	ErrIdempotencyKeyReused     = New(KindUnprocessable, CodeIdempotencyKeyReused, "idempotency key was used with a different request")
	ErrUsageLimitExceeded       = New(KindConflict, CodeUsageLimitExceeded, "usage limit for this period reached")
	ErrInternal                 = New(KindInternal, CodeInternal, "internal server error")
)

// Upstream wraps a gateway failure. The upstream message is kept so the
// caller sees why the order could not be created.
func Upstream(cause error) *Error {
	return ErrGateway.WithMessage("payment gateway error: %v", cause).Wrap(cause)
}

// From converts any error into an *Error, defaulting to ErrInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}
