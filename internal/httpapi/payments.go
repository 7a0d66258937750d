package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// PaymentService описывает операции платёжного сервиса, доступные по HTTP.
type PaymentService interface {
	Initiate(ctx context.Context, req domain.PaymentRequest) (domain.Payment, error)
	Get(ctx context.Context, claims domain.Claims, id string) (domain.Payment, error)
	GetByOrder(ctx context.Context, claims domain.Claims, orderID string) (domain.Payment, error)
	List(ctx context.Context, claims domain.Claims, filter domain.PaymentFilter) ([]domain.Payment, domain.Pagination, error)
	Refund(ctx context.Context, claims domain.Claims, id string, amount *decimal.Decimal) (domain.Payment, error)
}

// internalCaller — claims доверенного межсервисного вызова.
var internalCaller = domain.Claims{UserID: "internal", Role: domain.RoleAdmin}

// PaymentHandler обслуживает /api/payments.
type PaymentHandler struct {
	svc       PaymentService
	responder *Responder
}

func NewPaymentHandler(svc PaymentService, responder *Responder) *PaymentHandler {
	return &PaymentHandler{svc: svc, responder: responder}
}

// Initiate обрабатывает POST /api/payments/initiate (внутренний listener).
// Успех отдаёт 201, отказ шлюза 402, в обоих случаях с платежом в теле.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req wire.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.OrderID == "" || req.UserID == "" || req.Amount.IsZero() {
		h.responder.BadRequest(c, "orderId, userId, and amount are required")
		return
	}

	payment, err := h.svc.Initiate(c.Request.Context(), req.ToDomain())
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	if payment.Status == domain.PaymentStatusSucceeded {
		c.JSON(http.StatusCreated, wire.PaymentResponse{Message: "Payment successful", Payment: wire.FromPayment(payment)})
		return
	}
	c.JSON(http.StatusPaymentRequired, wire.PaymentResponse{Message: "Payment failed", Payment: wire.FromPayment(payment)})
}

// List обрабатывает GET /api/payments?page=&limit=&status=.
func (h *PaymentHandler) List(c *gin.Context) {
	filter := domain.PaymentFilter{
		Status: domain.PaymentStatus(c.Query("status")),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
	}
	payments, page, err := h.svc.List(c.Request.Context(), claimsFrom(c), filter)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	resp := wire.PaymentListResponse{Payments: make([]wire.Payment, 0, len(payments)), Pagination: wire.FromPagination(page)}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, wire.FromPayment(p))
	}
	c.JSON(http.StatusOK, resp)
}

// Get обрабатывает GET /api/payments/:id.
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.svc.Get(c.Request.Context(), claimsFrom(c), c.Param("id"))
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.PaymentResponse{Payment: wire.FromPayment(payment)})
}

// GetByOrder обрабатывает GET /api/payments/order/:orderId и отдаёт последнюю попытку оплаты заказа.
func (h *PaymentHandler) GetByOrder(c *gin.Context) {
	payment, err := h.svc.GetByOrder(c.Request.Context(), claimsFrom(c), c.Param("orderId"))
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.PaymentResponse{Payment: wire.FromPayment(payment)})
}

// InternalGetByOrder выполняет то же чтение для сервиса заказов; доступ к заказу уже проверен им.
func (h *PaymentHandler) InternalGetByOrder(c *gin.Context) {
	payment, err := h.svc.GetByOrder(c.Request.Context(), internalCaller, c.Param("orderId"))
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.PaymentResponse{Payment: wire.FromPayment(payment)})
}

// Refund обрабатывает POST /api/payments/:id/refund (администратор). Пустое тело означает полный возврат.
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req wire.RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.responder.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	payment, err := h.svc.Refund(c.Request.Context(), claimsFrom(c), c.Param("id"), req.Amount)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.PaymentResponse{Message: "Refund successful", Payment: wire.FromPayment(payment)})
}
