package saga

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// Режимы доставки callback, они же значения метки в метриках.
const (
	CallbackModeDirect = "direct"
	CallbackModeOutbox = "outbox"
)

const defaultCallbackTimeout = 5 * time.Second

// OutcomeSender отправляет исход платежа в сервис заказов.
type OutcomeSender interface {
	SendOutcome(ctx context.Context, outcome domain.PaymentOutcome) error
}

// DirectNotifier шлёт callback в фоне, один раз, без повторов.
// Ошибка доставки только логируется.
type DirectNotifier struct {
	sender  OutcomeSender
	timeout time.Duration
	metrics *metrics.SagaMetrics
	logger  *log.Entry
	wg      sync.WaitGroup
}

// NewDirectNotifier создаёт fire-and-forget notifier.
func NewDirectNotifier(sender OutcomeSender, timeout time.Duration, m *metrics.SagaMetrics, logger *log.Entry) *DirectNotifier {
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "callback-direct")
	}
	return &DirectNotifier{sender: sender, timeout: timeout, metrics: m, logger: logger}
}

// Notify возвращается сразу; отмена ctx запроса не прерывает доставку.
func (n *DirectNotifier) Notify(ctx context.Context, outcome domain.PaymentOutcome) {
	bg := context.WithoutCancel(ctx)

	n.wg.Add(1)
	n.metrics.CallbackStarted()
	go func() {
		defer n.wg.Done()
		defer n.metrics.CallbackFinished()

		start := time.Now()
		sendCtx, cancel := context.WithTimeout(bg, n.timeout)
		defer cancel()

		entry := n.logger.WithFields(log.Fields{
			"order_id":       outcome.OrderID,
			"payment_id":     outcome.PaymentID,
			"payment_status": outcome.PaymentStatus,
		})
		err := n.sender.SendOutcome(sendCtx, outcome)
		n.metrics.ObserveStep(string(domain.SagaStepNotify), start)
		if err != nil {
			n.metrics.RecordCallback(CallbackModeDirect, "failed")
			entry.WithError(err).Error("failed to notify order service")
			return
		}
		n.metrics.RecordCallback(CallbackModeDirect, "delivered")
		entry.Debug("order service notified")
	}()
}

// Wait дожидается фоновых callback или отмены ctx.
func (n *DirectNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OutboxNotifier ставит callback в transactional outbox; доставляет outbox.Worker.
type OutboxNotifier struct {
	repo    domain.OutboxRepository
	metrics *metrics.SagaMetrics
	logger  *log.Entry
}

func NewOutboxNotifier(repo domain.OutboxRepository, m *metrics.SagaMetrics, logger *log.Entry) *OutboxNotifier {
	if logger == nil {
		logger = log.WithField("component", "callback-outbox")
	}
	return &OutboxNotifier{repo: repo, metrics: m, logger: logger}
}

// Notify сохраняет payment.callback с телом PaymentUpdate.
func (n *OutboxNotifier) Notify(ctx context.Context, outcome domain.PaymentOutcome) {
	entry := n.logger.WithFields(log.Fields{"order_id": outcome.OrderID, "payment_id": outcome.PaymentID})

	aggregateID := outcome.PaymentID
	if aggregateID == "" {
		aggregateID = outcome.OrderID
	}
	msg, err := wire.OutboxMessage(domain.OutboxAggregatePayment, aggregateID, domain.EventPaymentCallback, wire.FromOutcome(outcome))
	if err == nil {
		_, err = n.repo.Enqueue(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		n.metrics.RecordCallback(CallbackModeOutbox, "failed")
		entry.WithError(err).Error("failed to enqueue payment callback")
		return
	}
	n.metrics.RecordCallback(CallbackModeOutbox, "enqueued")
}

var (
	_ domain.OrderNotifier = (*DirectNotifier)(nil)
	_ domain.OrderNotifier = (*OutboxNotifier)(nil)
)
