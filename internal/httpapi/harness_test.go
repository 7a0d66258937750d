package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/gateway"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

const (
	customerToken = "customer-token"
	strangerToken = "stranger-token"
	adminToken    = "admin-token"
	internalToken = "internal-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(_ context.Context, token string) (domain.Claims, error) {
	if v.err != nil {
		return domain.Claims{}, v.err
	}
	switch token {
	case customerToken:
		return domain.Claims{UserID: "user-1", Role: domain.RoleCustomer, Token: token}, nil
	case strangerToken:
		return domain.Claims{UserID: "user-2", Role: domain.RoleCustomer, Token: token}, nil
	case adminToken:
		return domain.Claims{UserID: "admin-1", Role: domain.RoleAdmin, Token: token}, nil
	}
	return domain.Claims{}, domain.ErrUnauthenticated
}

type stubCatalog map[string]domain.Product

func (c stubCatalog) GetProduct(_ context.Context, id string) (domain.Product, error) {
	p, ok := c[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

type inlineNotifier struct {
	mu     sync.Mutex
	orders *order.Service
}

func (n *inlineNotifier) Notify(ctx context.Context, outcome domain.PaymentOutcome) {
	n.mu.Lock()
	svc := n.orders
	n.mu.Unlock()
	if svc != nil {
		_, _ = svc.ApplyPaymentOutcome(ctx, outcome)
	}
}

type testServer struct {
	ordersPublic     *gin.Engine
	ordersInternal   *gin.Engine
	paymentsPublic   *gin.Engine
	paymentsInternal *gin.Engine
	orderRepo        domain.OrderRepository
}

type serverOption func(*RouterConfig)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	registry := prometheus.NewRegistry()
	sagaMetrics := metrics.NewSagaMetricsWithRegisterer(registry)

	notifier := &inlineNotifier{}
	sim := gateway.NewSimulator(
		gateway.WithFailureRate(0),
		gateway.WithRefundFailureRate(0),
		gateway.WithRand(rand.New(rand.NewSource(7))),
		gateway.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	payments := payment.NewService(memory.NewPaymentRepository(), sim,
		payment.WithNotifier(notifier),
		payment.WithMetrics(sagaMetrics),
	)

	orderRepo := memory.NewOrderRepository()
	orchestrator := saga.NewOrchestrator(payments, orderRepo, saga.WithMetrics(sagaMetrics))
	orders := order.NewService(orderRepo, stubCatalog{
		"mug":     {ID: "mug", Name: "Mug", Price: decimal.RequireFromString("10"), Stock: 5, IsActive: true},
		"pen":     {ID: "pen", Name: "Pen", Price: decimal.RequireFromString("5"), Stock: 10, IsActive: true},
		"retired": {ID: "retired", Name: "Retired", Price: decimal.NewFromInt(1), Stock: 10, IsActive: false},
	},
		order.WithPayments(orchestrator),
		order.WithMetrics(sagaMetrics),
	)
	notifier.mu.Lock()
	notifier.orders = orders
	notifier.mu.Unlock()

	cfg := RouterConfig{
		Service:       "test",
		Version:       "v-test",
		Verifier:      stubVerifier{},
		Guard:         idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil),
		HTTPMetrics:   metrics.NewHTTPMetrics(registry),
		InternalToken: internalToken,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	responder := NewResponder(nil)
	cfg.Responder = responder

	orderHandler := NewOrderHandler(orders, responder)
	paymentHandler := NewPaymentHandler(payments, responder)
	return &testServer{
		ordersPublic:     NewOrderPublicRouter(orderHandler, cfg),
		ordersInternal:   NewOrderInternalRouter(orderHandler, cfg),
		paymentsPublic:   NewPaymentPublicRouter(paymentHandler, cfg),
		paymentsInternal: NewPaymentInternalRouter(paymentHandler, cfg),
		orderRepo:        orderRepo,
	}
}

type request struct {
	method  string
	path    string
	token   string
	body    any
	headers map[string]string
}

func do(t *testing.T, engine *gin.Engine, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if r.body != nil {
		if raw, ok := r.body.(string); ok {
			body.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&body).Encode(r.body))
		}
	}
	req := httptest.NewRequest(r.method, r.path, &body)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

var scenarioOrder = map[string]any{
	"items": []map[string]any{
		{"productId": "mug", "quantity": 2},
		{"productId": "pen", "quantity": 1},
	},
	"shippingAddress": map[string]any{"street": "1 Main", "city": "Springfield", "zip": "12345"},
	"payment":         map[string]any{"cardNumber": "4242424242424242"},
}

func createOrder(t *testing.T, s *testServer, body any) map[string]any {
	t.Helper()
	w := do(t, s.ordersPublic, request{method: http.MethodPost, path: "/api/orders", token: customerToken, body: body})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeJSON[map[string]any](t, w)
}

func forceStatus(s *testServer, id string, status domain.OrderStatus) error {
	ctx := context.Background()
	o, err := s.orderRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	o.Status = status
	return s.orderRepo.Save(ctx, o)
}
