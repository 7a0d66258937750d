package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// OrderService описывает операции сервиса заказов, доступные по HTTP.
type OrderService interface {
	Create(ctx context.Context, requester domain.Claims, in order.CreateInput) (order.CreateResult, error)
	List(ctx context.Context, requester domain.Claims, filter domain.OrderFilter) ([]domain.Order, domain.Pagination, error)
	Get(ctx context.Context, requester domain.Claims, id string, enrich bool) (order.Detail, error)
	UpdateStatus(ctx context.Context, requester domain.Claims, id string, status domain.OrderStatus, note string) (domain.Order, error)
	Cancel(ctx context.Context, requester domain.Claims, id, reason string) (domain.Order, error)
	Pay(ctx context.Context, requester domain.Claims, id string, opts saga.PaymentOptions) (domain.Payment, error)
	ApplyPaymentOutcome(ctx context.Context, outcome domain.PaymentOutcome) (domain.Order, error)
}

// OrderHandler обслуживает /api/orders.
type OrderHandler struct {
	svc       OrderService
	responder *Responder
}

func NewOrderHandler(svc OrderService, responder *Responder) *OrderHandler {
	return &OrderHandler{svc: svc, responder: responder}
}

// Create обрабатывает POST /api/orders.
func (h *OrderHandler) Create(c *gin.Context) {
	var req wire.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	in := order.CreateInput{
		ShippingAddress: req.ShippingAddress.ToDomain(),
		Notes:           req.Notes,
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, order.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if req.Payment != nil {
		in.Payment = &saga.PaymentOptions{
			CardNumber: req.Payment.CardNumber,
			Method:     req.Payment.Method,
			Currency:   req.Payment.Currency,
		}
	}

	result, err := h.svc.Create(c.Request.Context(), claimsFrom(c), in)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	resp := wire.OrderResponse{Message: "Order created successfully", Order: wire.FromOrder(result.Order)}
	if result.Payment != nil {
		payment := wire.FromPayment(*result.Payment)
		resp.Payment = &payment
	}
	c.JSON(http.StatusCreated, resp)
}

// List обрабатывает GET /api/orders?page=&limit=&status=.
func (h *OrderHandler) List(c *gin.Context) {
	filter := domain.OrderFilter{
		Status: domain.OrderStatus(c.Query("status")),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
	}
	orders, page, err := h.svc.List(c.Request.Context(), claimsFrom(c), filter)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	resp := wire.OrderListResponse{Orders: make([]wire.Order, 0, len(orders)), Pagination: wire.FromPagination(page)}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, wire.FromOrder(o))
	}
	c.JSON(http.StatusOK, resp)
}

// Get обрабатывает GET /api/orders/:id и отдаёт заказ вместе с актуальным платежом.
func (h *OrderHandler) Get(c *gin.Context) {
	detail, err := h.svc.Get(c.Request.Context(), claimsFrom(c), c.Param("id"), true)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	resp := wire.OrderResponse{Order: wire.FromOrder(detail.Order)}
	if detail.Payment != nil {
		payment := wire.FromPayment(*detail.Payment)
		resp.Payment = &payment
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateStatus обрабатывает PATCH /api/orders/:id/status (администратор).
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req wire.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	o, err := h.svc.UpdateStatus(c.Request.Context(), claimsFrom(c), c.Param("id"), domain.OrderStatus(req.Status), req.Notes)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": wire.FromOrder(o)})
}

// Cancel обрабатывает POST /api/orders/:id/cancel. Тело необязательно.
func (h *OrderHandler) Cancel(c *gin.Context) {
	var req wire.CancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.responder.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	o, err := h.svc.Cancel(c.Request.Context(), claimsFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order": wire.FromOrder(o)})
}

// Pay обрабатывает POST /api/orders/:id/pay, повторную попытку оплаты pending-заказа.
func (h *OrderHandler) Pay(c *gin.Context) {
	var req wire.PaymentOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.responder.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	claims := claimsFrom(c)
	payment, err := h.svc.Pay(c.Request.Context(), claims, c.Param("id"), saga.PaymentOptions{
		CardNumber: req.CardNumber,
		Method:     req.Method,
		Currency:   req.Currency,
	})
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}

	wirePayment := wire.FromPayment(payment)
	resp := wire.OrderResponse{Message: "Payment initiated", Payment: &wirePayment}
	detail, err := h.svc.Get(c.Request.Context(), claims, c.Param("id"), false)
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	resp.Order = wire.FromOrder(detail.Order)
	c.JSON(http.StatusOK, resp)
}

// PaymentUpdate обрабатывает PATCH /api/orders/internal/payment-update от сервиса платежей.
func (h *OrderHandler) PaymentUpdate(c *gin.Context) {
	var req wire.PaymentUpdate
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" || req.PaymentStatus == "" {
		h.responder.BadRequest(c, "orderId and paymentStatus required")
		return
	}
	o, err := h.svc.ApplyPaymentOutcome(c.Request.Context(), req.ToDomain())
	if err != nil {
		h.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order payment status updated", "order": wire.FromOrder(o)})
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return value
}
