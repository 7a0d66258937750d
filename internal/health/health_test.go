package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func ok(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("order-service", "v1.0.0")
	handler.Register("postgres", true, CheckFunc(ok))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy || response.Service != "order-service" || response.Version != "v1.0.0" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if check := response.Checks["postgres"]; check.Name != "postgres" || check.Status != StatusHealthy {
		t.Fatalf("unexpected check: %+v", check)
	}
}

func TestHealthHandler_CriticalFailure(t *testing.T) {
	handler := NewHandler("payment-service", "dev")
	handler.Register("postgres", true, CheckFunc(func(context.Context) error { return errors.New("connection refused") }))
	handler.Register("kafka", false, CheckFunc(ok))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Checks["postgres"].Message != "connection refused" {
		t.Fatalf("unexpected message: %+v", response.Checks["postgres"])
	}
}

func TestHealthHandler_NonCriticalFailureDegrades(t *testing.T) {
	handler := NewHandler("order-service", "dev")
	handler.Register("kafka", false, CheckFunc(func(context.Context) error { return errors.New("no brokers") }))

	response := handler.Evaluate(context.Background())
	if response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("degraded service must stay ready, got %d", w.Code)
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("order-service", "dev")
	handler.Register("postgres", true, CheckFunc(func(context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "postgres") {
		t.Fatalf("expected failed check name in body, got %q", w.Body.String())
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected liveness response: %d %q", w.Code, w.Body.String())
	}
}

func TestCheckTimeoutPropagates(t *testing.T) {
	handler := NewHandler("order-service", "dev")
	handler.timeout = 20 * time.Millisecond
	handler.Register("slow", true, CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	response := handler.Evaluate(context.Background())
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy after timeout, got %s", response.Status)
	}
}

func TestOutboxBacklogChecker(t *testing.T) {
	repo := memory.NewOutboxRepository()
	checker := NewOutboxBacklogChecker(repo, time.Minute)

	if check := checker.Check(context.Background()); check.Status != StatusHealthy {
		t.Fatalf("empty outbox must be healthy, got %+v", check)
	}

	if _, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.OutboxAggregatePayment,
		AggregateID:   "pay_1",
		EventType:     domain.EventPaymentCallback,
		Payload:       []byte(`{}`),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	checker.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	check := checker.Check(context.Background())
	if check.Status != StatusDegraded || !strings.Contains(check.Message, "1 pending") {
		t.Fatalf("expected degraded backlog, got %+v", check)
	}
}
