package domain

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestNewIdempotencyKeyScopesBySubjectAndRoute(t *testing.T) {
	alice := NewIdempotencyKey("user-1", "post", "/api/orders", " order-42 ")
	bob := NewIdempotencyKey("user-2", http.MethodPost, "/api/orders", "order-42")
	internal := NewIdempotencyKey("", http.MethodPost, "/internal/payments/initiate", "order-42")

	if alice.Scope != "user-1 POST /api/orders" || alice.Value != "order-42" {
		t.Fatalf("unexpected key %+v", alice)
	}
	if alice == bob {
		t.Fatal("same header value from different users must not share a key")
	}
	if internal.Scope != "internal POST /internal/payments/initiate" {
		t.Fatalf("unexpected internal scope %q", internal.Scope)
	}
	if alice.String() != "user-1 POST /api/orders/order-42" {
		t.Fatalf("unexpected string form %q", alice.String())
	}
}

func TestIdempotencyKeyValidate(t *testing.T) {
	if err := NewIdempotencyKey("user-1", "POST", "/api/orders", "k").Validate(); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if err := NewIdempotencyKey("user-1", "POST", "/api/orders", "   ").Validate(); !errors.Is(err, ErrIdempotencyKeyRequired) {
		t.Fatalf("blank key: got %v", err)
	}
	if err := (IdempotencyKey{Value: "k"}).Validate(); !errors.Is(err, ErrIdempotencyKeyRequired) {
		t.Fatalf("unscoped key: got %v", err)
	}

	long := NewIdempotencyKey("user-1", "POST", "/api/orders", strings.Repeat("k", MaxIdempotencyKeyLength+1))
	err := long.Validate()
	if !errors.Is(err, ErrIdempotencyKeyInvalid) || !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized key: got %v", err)
	}
}

func TestIdempotencyRecordLifecycle(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	key := NewIdempotencyKey("user-1", "POST", "/api/orders", "k-1")
	record := NewIdempotencyRecord(key, "hash", now.Add(time.Hour), now)

	if record.ID() != key {
		t.Fatalf("record id %+v, want %+v", record.ID(), key)
	}
	if record.Completed() {
		t.Fatal("processing record must not be completed")
	}
	if record.Expired(now) || !record.Expired(now.Add(time.Hour)) {
		t.Fatal("ttl boundary is inclusive")
	}
	if record.ReplayStatus() != http.StatusOK {
		t.Fatalf("empty status should replay as 200, got %d", record.ReplayStatus())
	}

	record.Status = IdempotencyStatusFailed
	record.HTTPStatus = http.StatusPaymentRequired
	if !record.Completed() || record.ReplayStatus() != http.StatusPaymentRequired {
		t.Fatalf("failed record: completed=%v status=%d", record.Completed(), record.ReplayStatus())
	}
}

func TestIdempotencyStatusForHTTP(t *testing.T) {
	cases := map[int]IdempotencyStatus{
		http.StatusOK:                  IdempotencyStatusDone,
		http.StatusCreated:             IdempotencyStatusDone,
		http.StatusPaymentRequired:     IdempotencyStatusFailed,
		http.StatusConflict:            IdempotencyStatusFailed,
		http.StatusInternalServerError: IdempotencyStatusFailed,
	}
	for code, want := range cases {
		if got := IdempotencyStatusForHTTP(code); got != want {
			t.Fatalf("code %d: got %s, want %s", code, got, want)
		}
	}
}
