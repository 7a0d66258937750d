package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// OutcomeApplier применяет исход платежа к заказу.
type OutcomeApplier interface {
	ApplyPaymentOutcome(ctx context.Context, outcome domain.PaymentOutcome) (domain.Order, error)
}

// PaymentEventHandler сверяет заказы по событиям из fulfillment.payment.events.
type PaymentEventHandler struct {
	orders  OutcomeApplier
	metrics *metrics.SagaMetrics
	logger  *log.Entry
}

func NewPaymentEventHandler(orders OutcomeApplier, m *metrics.SagaMetrics, logger *log.Entry) *PaymentEventHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-event-handler")
	}
	return &PaymentEventHandler{orders: orders, metrics: m, logger: logger}
}

// Handle разбирает событие и применяет его. Битые сообщения и неизвестные заказы
// пропускаются без ошибки, чтобы не блокировать партицию; прочие ошибки возвращаются на повтор.
func (h *PaymentEventHandler) Handle(ctx context.Context, payload []byte) error {
	var event wire.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WithError(err).Warn("skipping malformed payment event")
		return nil
	}
	outcome, err := event.Outcome()
	if err != nil {
		h.logger.WithError(err).WithField("payment_id", event.PaymentID).Warn("skipping payment event")
		return nil
	}

	entry := h.logger.WithFields(log.Fields{
		"order_id":       outcome.OrderID,
		"payment_id":     outcome.PaymentID,
		"payment_status": outcome.PaymentStatus,
	})
	if _, err := h.orders.ApplyPaymentOutcome(ctx, outcome); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrValidation) {
			h.metrics.RecordCallback("kafka", "skipped")
			entry.WithError(err).Warn("payment event does not match an order")
			return nil
		}
		h.metrics.RecordCallback("kafka", "failed")
		return fmt.Errorf("apply payment event: %w", err)
	}
	h.metrics.RecordCallback("kafka", "applied")
	entry.Debug("payment event applied")
	return nil
}
