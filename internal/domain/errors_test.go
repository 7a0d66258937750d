package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrOrderVersionConflict,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExistingPayment(t *testing.T) {
	existing := Payment{ID: "pay_1", OrderID: "order-1", Status: PaymentStatusSucceeded}
	err := fmt.Errorf("initiate: %w", &PaymentConflictError{Existing: existing})

	if !errors.Is(err, ErrPaymentAlreadyExists) {
		t.Fatalf("expected ErrPaymentAlreadyExists, got %v", err)
	}
	got, ok := ExistingPayment(err)
	if !ok || got.ID != "pay_1" {
		t.Fatalf("expected existing payment pay_1, got %+v (ok=%v)", got, ok)
	}
	if _, ok := ExistingPayment(ErrPaymentNotFound); ok {
		t.Fatal("plain error must not carry a payment")
	}
}

func TestRefundFailedError(t *testing.T) {
	err := &RefundFailedError{Reason: "refund_processing_error"}
	if !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}
	if err.Error() != "refund processing failed: refund_processing_error" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestValidationErrorsWrapBase(t *testing.T) {
	for _, err := range []error{ErrUserIDRequired, ErrItemsRequired, ErrOrderIDRequired, ErrPaymentStatusInvalid} {
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%v must wrap ErrValidation", err)
		}
	}
	if errors.Is(ErrOrderNotFound, ErrValidation) {
		t.Fatal("not found must not be a validation error")
	}
}
