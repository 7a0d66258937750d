package wire

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// CreateOrderItem — позиция во входящем запросе; цена берётся только из каталога.
type CreateOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PaymentOptions — необязательные параметры оплаты, переданные клиентом.
type PaymentOptions struct {
	CardNumber string `json:"cardNumber,omitempty"`
	Method     string `json:"method,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// CreateOrderRequest описывает тело POST /api/orders.
type CreateOrderRequest struct {
	Items           []CreateOrderItem `json:"items"`
	ShippingAddress ShippingAddress   `json:"shippingAddress"`
	Notes           string            `json:"notes"`
	Payment         *PaymentOptions   `json:"payment,omitempty"`
}

// ToDomain переводит адрес доставки в доменный тип.
func (a ShippingAddress) ToDomain() domain.ShippingAddress {
	return domain.ShippingAddress{Street: a.Street, City: a.City, State: a.State, Zip: a.Zip, Country: a.Country}
}

// UpdateStatusRequest описывает тело PATCH /api/orders/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// CancelOrderRequest описывает тело POST /api/orders/:id/cancel.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// InitiatePaymentRequest описывает тело POST /api/payments/initiate.
type InitiatePaymentRequest struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	CardNumber  string          `json:"cardNumber,omitempty"`
	Method      string          `json:"method,omitempty"`
}

func (r InitiatePaymentRequest) ToDomain() domain.PaymentRequest {
	return domain.PaymentRequest{
		OrderID:     r.OrderID,
		OrderNumber: r.OrderNumber,
		UserID:      r.UserID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		CardNumber:  r.CardNumber,
		Method:      r.Method,
	}
}

func FromPaymentRequest(r domain.PaymentRequest) InitiatePaymentRequest {
	return InitiatePaymentRequest{
		OrderID:     r.OrderID,
		OrderNumber: r.OrderNumber,
		UserID:      r.UserID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		CardNumber:  r.CardNumber,
		Method:      r.Method,
	}
}

// RefundRequest описывает тело POST /api/payments/:id/refund; пустая сумма означает полный возврат.
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// PaymentUpdate описывает тело callback PATCH /api/orders/internal/payment-update.
type PaymentUpdate struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
	PaymentID     string `json:"paymentId,omitempty"`
}

func FromOutcome(o domain.PaymentOutcome) PaymentUpdate {
	return PaymentUpdate{OrderID: o.OrderID, PaymentStatus: string(o.PaymentStatus), PaymentID: o.PaymentID}
}

func (u PaymentUpdate) ToDomain() domain.PaymentOutcome {
	return domain.PaymentOutcome{
		OrderID:       u.OrderID,
		PaymentStatus: domain.OrderPaymentStatus(u.PaymentStatus),
		PaymentID:     u.PaymentID,
	}
}
