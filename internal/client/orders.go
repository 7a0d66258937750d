package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// OrderCallback доставляет исход платежа во внутренний listener сервиса заказов.
type OrderCallback struct {
	*base
}

// NewOrderCallback создаёт клиент PATCH /api/orders/internal/payment-update.
func NewOrderCallback(baseURL string, options ...Option) (*OrderCallback, error) {
	b, err := newBase("order-service", baseURL, options)
	if err != nil {
		return nil, err
	}
	return &OrderCallback{base: b}, nil
}

// SendOutcome отправляет callback один раз. Повторы решает вызывающий (outbox-воркер).
func (c *OrderCallback) SendOutcome(ctx context.Context, outcome domain.PaymentOutcome) error {
	resp, err := c.call(ctx, http.MethodPatch, "/api/orders/internal/payment-update", wire.FromOutcome(outcome), nil)
	if err != nil {
		return err
	}
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, outcome.OrderID)
	case resp.status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrValidation, problemMessage(resp.body))
	default:
		return &domain.UpstreamStatusError{Service: c.service, StatusCode: resp.status, Body: resp.body}
	}
}

// Publish доставляет outbox-сообщение payment.callback, реализуя domain.OutboxPublisher.
func (c *OrderCallback) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	var update wire.PaymentUpdate
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		return fmt.Errorf("%w: decode callback %s: %v", domain.ErrOutboxPublish, msg.ID, err)
	}
	return c.SendOutcome(ctx, update.ToDomain())
}

var _ domain.OutboxPublisher = (*OrderCallback)(nil)
