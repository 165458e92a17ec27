package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsComparesCodes(t *testing.T) {
	wrapped := fmt.Errorf("subscribe: %w", ErrInvalidCoupon.WithMessage("coupon %s expired", "X"))

	assert.True(t, errors.Is(wrapped, ErrInvalidCoupon))
	assert.False(t, errors.Is(wrapped, ErrCouponLimitExceeded))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrPlanNotFound, http.StatusNotFound},
		{ErrActiveSubscriptionExists, http.StatusConflict},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrIdempotencyKeyReused, http.StatusUnprocessableEntity},
		{ErrGateway, http.StatusInternalServerError},
		{ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Status())
		})
	}
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	plain := errors.New("boom")
	got := From(plain)
	assert.Equal(t, CodeInternal, got.Code)
	assert.ErrorIs(t, got, plain)

	assert.Same(t, ErrPlanNotFound, From(ErrPlanNotFound))
}

func TestUpstreamKeepsMessage(t *testing.T) {
	err := Upstream(errors.New("status=502 body=bad gateway"))
	assert.Equal(t, CodeGateway, err.Code)
	assert.Contains(t, err.Message, "status=502")
	assert.Equal(t, http.StatusInternalServerError, err.Status())
}
