package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

const (
	jwtSecret     = "integration-secret"
	internalToken = "integration-internal"
)

// OrderLifecycleTestSuite поднимает order-service и payment-service в одном
// процессе на in-memory хранилищах и гоняет сценарии по HTTP.
type OrderLifecycleTestSuite struct {
	suite.Suite
	callbackMode string

	catalog          *httptest.Server
	orders           string
	payments         string
	paymentsInternal string
	cancel           context.CancelFunc
	done             sync.WaitGroup
	errs             chan error

	customer string
	stranger string
	admin    string
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	log.SetLevel(log.WarnLevel)

	s.catalog = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		products := map[string]string{
			"/api/products/mug": `{"product":{"_id":"mug","name":"Mug","price":10,"stock":5,"isActive":true}}`,
			"/api/products/pen": `{"product":{"_id":"pen","name":"Pen","price":5,"stock":10,"isActive":true}}`,
		}
		body, ok := products[r.URL.Path]
		if !ok {
			http.Error(w, `{"message":"Product not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))

	common := app.DefaultCommonConfig()
	common.JWTSecret = jwtSecret
	common.InternalToken = internalToken
	common.TracingDisabled = true
	common.RateLimitRPS = 0
	common.OutboxPollInterval = 20 * time.Millisecond
	common.OutboxRetryDelay = 0
	common.ShutdownTimeout = 2 * time.Second

	orderCfg := app.DefaultOrderConfig()
	orderCfg.CommonConfig = common
	orderCfg.HTTPAddr = freeAddr(s.T())
	orderCfg.InternalAddr = freeAddr(s.T())
	orderCfg.MetricsAddr = freeAddr(s.T())
	orderCfg.ProductServiceURL = s.catalog.URL

	paymentCfg := app.DefaultPaymentConfig()
	paymentCfg.CommonConfig = common
	paymentCfg.HTTPAddr = freeAddr(s.T())
	paymentCfg.InternalAddr = freeAddr(s.T())
	paymentCfg.MetricsAddr = freeAddr(s.T())
	paymentCfg.CallbackMode = s.callbackMode
	paymentCfg.SimulatedFailureRate = 0
	paymentCfg.SimulatedRefundFailureRate = 0
	paymentCfg.SimulatedMinDelay = 0
	paymentCfg.SimulatedMaxDelay = 0

	orderCfg.PaymentServiceURL = "http://" + paymentCfg.InternalAddr
	paymentCfg.OrderServiceURL = "http://" + orderCfg.InternalAddr
	s.orders = "http://" + orderCfg.HTTPAddr
	s.payments = "http://" + paymentCfg.HTTPAddr
	s.paymentsInternal = orderCfg.PaymentServiceURL

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.errs = make(chan error, 2)
	s.done.Add(2)
	go func() {
		defer s.done.Done()
		s.errs <- app.RunOrderService(ctx, orderCfg)
	}()
	go func() {
		defer s.done.Done()
		s.errs <- app.RunPaymentService(ctx, paymentCfg)
	}()

	for _, base := range []string{s.orders, s.payments, orderCfg.PaymentServiceURL, paymentCfg.OrderServiceURL} {
		s.waitHealthy(base)
	}

	s.customer = s.token("user-1", domain.RoleCustomer)
	s.stranger = s.token("user-2", domain.RoleCustomer)
	s.admin = s.token("admin-1", domain.RoleAdmin)
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.cancel()
	s.done.Wait()
	close(s.errs)
	for err := range s.errs {
		s.Require().NoError(err)
	}
	s.catalog.Close()
}

func (s *OrderLifecycleTestSuite) TestPaidOrderThenRefund() {
	created := s.createOrder("4242424242424242")
	s.Equal("confirmed", created.Order.Status)
	s.Equal("paid", created.Order.PaymentStatus)
	s.Equal("25", created.Order.TotalAmount.String())
	s.Require().NotNil(created.Payment)
	s.Equal("succeeded", created.Payment.Status)

	var fetched wire.OrderResponse
	s.call(http.MethodGet, s.orders+"/api/orders/"+created.Order.ID, s.customer, nil, http.StatusOK, &fetched)
	s.Require().NotNil(fetched.Payment)
	s.Equal(created.Payment.ID, fetched.Payment.ID)

	s.call(http.MethodGet, s.orders+"/api/orders/"+created.Order.ID, s.stranger, nil, http.StatusForbidden, nil)

	var refunded wire.PaymentResponse
	s.call(http.MethodPost, s.payments+"/api/payments/"+created.Payment.ID+"/refund", s.admin, nil, http.StatusOK, &refunded)
	s.Equal("refunded", refunded.Payment.Status)

	// callback о возврате приходит асинхронно
	s.Eventually(func() bool {
		var order wire.OrderResponse
		s.call(http.MethodGet, s.orders+"/api/orders/"+created.Order.ID, s.customer, nil, http.StatusOK, &order)
		return order.Order.Status == "refunded" && order.Order.PaymentStatus == "refunded"
	}, 3*time.Second, 25*time.Millisecond)
}

func (s *OrderLifecycleTestSuite) TestDeclinedCardCancelsOrder() {
	created := s.createOrder("4000000000000002")
	s.Equal("cancelled", created.Order.Status)
	s.Equal("failed", created.Order.PaymentStatus)
	s.Require().NotNil(created.Payment)
	s.Equal("failed", created.Payment.Status)
	s.NotEmpty(created.Payment.FailureReason)
}

func (s *OrderLifecycleTestSuite) TestPayAgainIsRejected() {
	created := s.createOrder("4242424242424242")
	s.call(http.MethodPost, s.orders+"/api/orders/"+created.Order.ID+"/pay", s.customer,
		map[string]any{"cardNumber": "4242424242424242"}, http.StatusConflict, nil)

	var list wire.PaymentListResponse
	s.call(http.MethodGet, s.payments+"/api/payments", s.customer, nil, http.StatusOK, &list)
	s.Len(list.Payments, 1)
}

func (s *OrderLifecycleTestSuite) TestInternalListenersRequireToken() {
	body := map[string]any{"orderId": "o-1", "userId": "user-1", "amount": 1}
	s.call(http.MethodPost, s.paymentsInternal+"/api/payments/initiate", "", body, http.StatusUnauthorized, nil)
	// публичный listener не обслуживает внутренние маршруты
	s.call(http.MethodPost, s.payments+"/api/payments/initiate", s.customer, body, http.StatusNotFound, nil)
}

func (s *OrderLifecycleTestSuite) createOrder(card string) wire.OrderResponse {
	var out wire.OrderResponse
	s.call(http.MethodPost, s.orders+"/api/orders", s.customer, map[string]any{
		"items": []map[string]any{
			{"productId": "mug", "quantity": 2},
			{"productId": "pen", "quantity": 1},
		},
		"shippingAddress": map[string]any{"street": "1 Main", "city": "Springfield", "zip": "12345"},
		"payment":         map[string]any{"cardNumber": card},
	}, http.StatusCreated, &out)
	return out
}

func (s *OrderLifecycleTestSuite) call(method, url, token string, body any, wantStatus int, out any) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	s.Require().Equal(wantStatus, resp.StatusCode, "%s %s: %s", method, url, string(raw))
	if out != nil {
		s.Require().NoError(json.Unmarshal(raw, out))
	}
}

func (s *OrderLifecycleTestSuite) token(userID string, role domain.Role) string {
	token, err := auth.Issue(jwtSecret, userID, role, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *OrderLifecycleTestSuite) waitHealthy(base string) {
	s.Require().Eventually(func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "service at %s did not become healthy", base)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestOrderLifecycle_DirectCallbacks(t *testing.T) {
	suite.Run(t, &OrderLifecycleTestSuite{callbackMode: saga.CallbackModeDirect})
}

func TestOrderLifecycle_OutboxCallbacks(t *testing.T) {
	suite.Run(t, &OrderLifecycleTestSuite{callbackMode: saga.CallbackModeOutbox})
}

