package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// PaymentEvent публикуется в fulfillment.payment.events при смене исхода платежа.
type PaymentEvent struct {
	Type          string          `json:"type"`
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	UserID        string          `json:"userId"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	FailureReason string          `json:"failureReason,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// PaymentEventType сопоставляет статус платежа типу события; для нетерминальных возвращает false.
func PaymentEventType(status domain.PaymentStatus) (string, bool) {
	switch status {
	case domain.PaymentStatusSucceeded:
		return domain.EventPaymentSucceeded, true
	case domain.PaymentStatusFailed:
		return domain.EventPaymentFailed, true
	case domain.PaymentStatusRefunded:
		return domain.EventPaymentRefunded, true
	default:
		return "", false
	}
}

func NewPaymentEvent(p domain.Payment, at time.Time) (PaymentEvent, bool) {
	eventType, ok := PaymentEventType(p.Status)
	if !ok {
		return PaymentEvent{}, false
	}
	return PaymentEvent{
		Type:          eventType,
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Status:        string(p.Status),
		Amount:        p.Amount,
		Currency:      p.Currency,
		FailureReason: p.FailureReason,
		OccurredAt:    at,
	}, true
}

// Outcome переводит событие платежа в исход для сверки заказа.
func (e PaymentEvent) Outcome() (domain.PaymentOutcome, error) {
	outcome, ok := domain.OutcomeForPayment(domain.Payment{
		ID:      e.PaymentID,
		OrderID: e.OrderID,
		Status:  domain.PaymentStatus(e.Status),
	})
	if !ok {
		return domain.PaymentOutcome{}, fmt.Errorf("%w: payment event status %q", domain.ErrPaymentStatusInvalid, e.Status)
	}
	return outcome, nil
}

// OrderEvent публикуется в fulfillment.order.events при создании и смене статуса заказа.
type OrderEvent struct {
	Type          string          `json:"type"`
	OrderID       string          `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	UserID        string          `json:"userId"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Note          string          `json:"note,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func NewOrderEvent(eventType string, o domain.Order, at time.Time) OrderEvent {
	event := OrderEvent{
		Type:          eventType,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		TotalAmount:   o.TotalAmount,
		OccurredAt:    at,
	}
	if n := len(o.StatusHistory); n > 0 {
		event.Note = o.StatusHistory[n-1].Note
	}
	return event
}

// OutboxMessage упаковывает JSON-тело в сообщение outbox.
func OutboxMessage(aggregateType, aggregateID, eventType string, body any) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
