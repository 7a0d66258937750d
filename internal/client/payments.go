package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// Payments — клиент внутреннего listener-а платёжного сервиса.
type Payments struct {
	*base
}

// NewPayments создаёт клиент инициации и чтения платежей.
func NewPayments(baseURL string, options ...Option) (*Payments, error) {
	b, err := newBase("payment-service", baseURL, options)
	if err != nil {
		return nil, err
	}
	return &Payments{base: b}, nil
}

// Initiate вызывает POST /api/payments/initiate без повторов: дубликат попытки
// отсекается на стороне платёжного сервиса и приходит как 409.
func (p *Payments) Initiate(ctx context.Context, req domain.PaymentRequest) (domain.Payment, error) {
	resp, err := p.call(ctx, http.MethodPost, "/api/payments/initiate", wire.FromPaymentRequest(req), nil)
	if err != nil {
		return domain.Payment{}, err
	}

	switch resp.status {
	case http.StatusCreated, http.StatusOK, http.StatusPaymentRequired:
		var body wire.PaymentResponse
		if err := decode(resp, &body); err != nil {
			return domain.Payment{}, err
		}
		return body.Payment.ToDomain(), nil
	case http.StatusConflict:
		var problem struct {
			Extensions struct {
				Payment *wire.Payment `json:"payment"`
			} `json:"extensions"`
		}
		if err := decode(resp, &problem); err != nil || problem.Extensions.Payment == nil {
			return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrPaymentAlreadyExists, problemMessage(resp.body))
		}
		return domain.Payment{}, &domain.PaymentConflictError{Existing: problem.Extensions.Payment.ToDomain()}
	case http.StatusBadRequest:
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrValidation, problemMessage(resp.body))
	default:
		return domain.Payment{}, &domain.UpstreamStatusError{Service: p.service, StatusCode: resp.status, Body: resp.body}
	}
}

// LatestForOrder читает последнюю попытку оплаты заказа, пробрасывая токен запрашивающего.
func (p *Payments) LatestForOrder(ctx context.Context, orderID string, claims domain.Claims) (domain.Payment, error) {
	resp, err := p.read(ctx, "/api/payments/order/"+url.PathEscape(orderID), bearer(claims.Token))
	if err != nil {
		return domain.Payment{}, err
	}
	switch resp.status {
	case http.StatusOK:
		var body wire.PaymentResponse
		if err := decode(resp, &body); err != nil {
			return domain.Payment{}, err
		}
		return body.Payment.ToDomain(), nil
	case http.StatusNotFound:
		return domain.Payment{}, domain.ErrPaymentNotFound
	case http.StatusForbidden:
		return domain.Payment{}, domain.ErrAccessDenied
	default:
		return domain.Payment{}, &domain.UpstreamStatusError{Service: p.service, StatusCode: resp.status, Body: resp.body}
	}
}

var (
	_ domain.PaymentInitiator = (*Payments)(nil)
	_ domain.PaymentLookup    = (*Payments)(nil)
)

// IsUnavailable сообщает, что сосед недоступен (транспорт, 5xx, открытый breaker).
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrUpstreamUnavailable)
}
