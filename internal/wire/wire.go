// Package wire описывает JSON-представления заказов, платежей, callback и событий.
// Поля в camelCase, денежные суммы сериализуются числами.
package wire

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Pagination — блок пагинации списков.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func FromPagination(p domain.Pagination) Pagination {
	return Pagination{Total: p.Total, Page: p.Page, Limit: p.Limit, Pages: p.Pages}
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type ShippingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type StatusChange struct {
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	Note      string    `json:"note"`
}

// Order — заказ в ответах API.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	UserID          string          `json:"userId"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          string          `json:"status"`
	PaymentID       *string         `json:"paymentId"`
	PaymentStatus   string          `json:"paymentStatus"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	Notes           string          `json:"notes"`
	StatusHistory   []StatusChange  `json:"statusHistory"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// FromOrder переводит доменный заказ в JSON-представление.
func FromOrder(o domain.Order) Order {
	out := Order{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Items:         make([]OrderItem, 0, len(o.Items)),
		TotalAmount:   o.TotalAmount,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		ShippingAddress: ShippingAddress{
			Street:  o.ShippingAddress.Street,
			City:    o.ShippingAddress.City,
			State:   o.ShippingAddress.State,
			Zip:     o.ShippingAddress.Zip,
			Country: o.ShippingAddress.Country,
		},
		Notes:         o.Notes,
		StatusHistory: make([]StatusChange, 0, len(o.StatusHistory)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.PaymentID != "" {
		id := o.PaymentID
		out.PaymentID = &id
	}
	for _, item := range o.Items {
		out.Items = append(out.Items, OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}
	for _, change := range o.StatusHistory {
		out.StatusHistory = append(out.StatusHistory, StatusChange{
			Status:    string(change.Status),
			ChangedAt: change.ChangedAt,
			Note:      change.Note,
		})
	}
	return out
}

// Payment — платёж в ответах API и в теле ответа initiate.
type Payment struct {
	ID                   string            `json:"id"`
	OrderID              string            `json:"orderId"`
	OrderNumber          string            `json:"orderNumber"`
	UserID               string            `json:"userId"`
	Amount               decimal.Decimal   `json:"amount"`
	Currency             string            `json:"currency"`
	Status               string            `json:"status"`
	Method               string            `json:"method"`
	CardLast4            string            `json:"cardLast4,omitempty"`
	CardBrand            string            `json:"cardBrand,omitempty"`
	GatewayTransactionID string            `json:"gatewayTransactionId,omitempty"`
	GatewayResponse      json.RawMessage   `json:"gatewayResponse,omitempty"`
	FailureReason        string            `json:"failureReason,omitempty"`
	ProcessedAt          *time.Time        `json:"processedAt,omitempty"`
	RefundedAt           *time.Time        `json:"refundedAt,omitempty"`
	RefundAmount         *decimal.Decimal  `json:"refundAmount,omitempty"`
	RefundTransactionID  string            `json:"refundTransactionId,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

func FromPayment(p domain.Payment) Payment {
	out := Payment{
		ID:                   p.ID,
		OrderID:              p.OrderID,
		OrderNumber:          p.OrderNumber,
		UserID:               p.UserID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Status:               string(p.Status),
		Method:               string(p.Method),
		CardLast4:            p.CardLast4,
		CardBrand:            p.CardBrand,
		GatewayTransactionID: p.GatewayTransactionID,
		FailureReason:        p.FailureReason,
		ProcessedAt:          p.ProcessedAt,
		RefundedAt:           p.RefundedAt,
		RefundAmount:         p.RefundAmount,
		RefundTransactionID:  p.RefundTransactionID,
		Metadata:             p.Metadata,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if len(p.GatewayResponse) > 0 && json.Valid(p.GatewayResponse) {
		out.GatewayResponse = json.RawMessage(p.GatewayResponse)
	}
	return out
}

// ToDomain восстанавливает платёж из ответа payment-service.
func (p Payment) ToDomain() domain.Payment {
	return domain.Payment{
		ID:                   p.ID,
		OrderID:              p.OrderID,
		OrderNumber:          p.OrderNumber,
		UserID:               p.UserID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Status:               domain.PaymentStatus(p.Status),
		Method:               domain.PaymentMethod(p.Method),
		CardLast4:            p.CardLast4,
		CardBrand:            p.CardBrand,
		GatewayTransactionID: p.GatewayTransactionID,
		GatewayResponse:      []byte(p.GatewayResponse),
		FailureReason:        p.FailureReason,
		ProcessedAt:          p.ProcessedAt,
		RefundedAt:           p.RefundedAt,
		RefundAmount:         p.RefundAmount,
		RefundTransactionID:  p.RefundTransactionID,
		Metadata:             p.Metadata,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}
