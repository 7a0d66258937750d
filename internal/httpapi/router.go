package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// RouterConfig содержит общие зависимости публичных и внутренних роутеров.
type RouterConfig struct {
	Service       string
	Version       string
	Verifier      domain.TokenVerifier
	Guard         *idempotency.Guard
	Limiter       *RateLimiter
	HTTPMetrics   *metrics.HTTPMetrics
	InternalToken string
	Tracing       bool
	Logger        *log.Entry
	Responder     *Responder
}

func (cfg *RouterConfig) defaults() {
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "http")
	}
	if cfg.Responder == nil {
		cfg.Responder = NewResponder(cfg.Logger)
	}
}

func newEngine(cfg RouterConfig, listener string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		cfg.Logger.WithField("panic", recovered).WithField("path", c.Request.URL.Path).Error("handler panicked")
		cfg.Responder.Respond(c, ProblemInternal.WithDetail("internal error"))
	}))
	engine.Use(RequestID())
	if cfg.Tracing {
		engine.Use(otelgin.Middleware(cfg.Service))
	}
	engine.Use(AccessLog(cfg.Logger.WithField("listener", listener)))
	engine.Use(Metrics(cfg.HTTPMetrics, fmt.Sprintf("%s-%s", cfg.Service, listener)))

	engine.NoRoute(func(c *gin.Context) {
		cfg.Responder.Respond(c, ProblemNotFound.WithDetail("route not found"))
	})
	engine.GET("/health", healthHandler(cfg))
	return engine
}

func healthHandler(cfg RouterConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, wire.HealthResponse{Status: "ok", Service: cfg.Service, Version: cfg.Version})
	}
}

// NewOrderPublicRouter собирает /api/orders за bearer-аутентификацией и rate limit.
func NewOrderPublicRouter(h *OrderHandler, cfg RouterConfig) *gin.Engine {
	cfg.defaults()
	engine := newEngine(cfg, "public")

	orders := engine.Group("/api/orders", cfg.Limiter.Middleware(cfg.Responder), Authenticate(cfg.Verifier, cfg.Responder))
	orders.POST("", Idempotency(cfg.Guard, cfg.Responder), h.Create)
	orders.GET("", h.List)
	orders.GET("/:id", h.Get)
	orders.POST("/:id/cancel", h.Cancel)
	orders.POST("/:id/pay", h.Pay)
	orders.PATCH("/:id/status", RequireAdmin(cfg.Responder), h.UpdateStatus)
	return engine
}

// NewOrderInternalRouter принимает callback платёжного сервиса.
func NewOrderInternalRouter(h *OrderHandler, cfg RouterConfig) *gin.Engine {
	cfg.defaults()
	engine := newEngine(cfg, "internal")

	internal := engine.Group("/api/orders/internal", InternalToken(cfg.InternalToken, cfg.Responder))
	internal.PATCH("/payment-update", h.PaymentUpdate)
	return engine
}

// NewPaymentPublicRouter собирает /api/payments за bearer-аутентификацией и rate limit.
func NewPaymentPublicRouter(h *PaymentHandler, cfg RouterConfig) *gin.Engine {
	cfg.defaults()
	engine := newEngine(cfg, "public")

	payments := engine.Group("/api/payments", cfg.Limiter.Middleware(cfg.Responder), Authenticate(cfg.Verifier, cfg.Responder))
	payments.GET("", h.List)
	payments.GET("/order/:orderId", h.GetByOrder)
	payments.GET("/:id", h.Get)
	payments.POST("/:id/refund", RequireAdmin(cfg.Responder), h.Refund)
	return engine
}

// NewPaymentInternalRouter обслуживает инициацию оплаты и чтение платежа заказа для сервиса заказов.
func NewPaymentInternalRouter(h *PaymentHandler, cfg RouterConfig) *gin.Engine {
	cfg.defaults()
	engine := newEngine(cfg, "internal")

	internal := engine.Group("/api/payments", InternalToken(cfg.InternalToken, cfg.Responder))
	internal.POST("/initiate", Idempotency(cfg.Guard, cfg.Responder), h.Initiate)
	internal.GET("/order/:orderId", h.InternalGetByOrder)
	return engine
}
