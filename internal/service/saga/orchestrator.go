// Package saga координирует оплату заказа: запуск платежа, привязку его к заказу
// и доставку исхода обратно в сервис заказов.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// PaymentOptions — необязательные параметры оплаты от клиента.
type PaymentOptions struct {
	CardNumber string
	Method     string
	Currency   string
}

// Orchestrator запускает оплату заказа и сохраняет ссылку на платёж.
type Orchestrator struct {
	payments domain.PaymentInitiator
	orders   domain.OrderRepository
	retry    *retrier.Retrier
	metrics  *metrics.SagaMetrics
	logger   *log.Entry
	now      func() time.Time
}

// OrchestratorOption настраивает Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithRetryConfig(cfg RetryConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.retry = NewConflictRetrier(cfg) }
}

func WithMetrics(m *metrics.SagaMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(logger *log.Entry) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = clock }
}

// NewOrchestrator создаёт координатор саги.
func NewOrchestrator(payments domain.PaymentInitiator, orders domain.OrderRepository, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		payments: payments,
		orders:   orders,
		retry:    NewConflictRetrier(DefaultRetryConfig()),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "saga")
	}
	return o
}

// StartPayment инициирует платёж на сумму заказа и записывает его идентификатор в заказ.
// Статус заказа здесь не меняется: исход приходит через callback.
// Дубликат возвращается как *domain.PaymentConflictError.
func (o *Orchestrator) StartPayment(ctx context.Context, order domain.Order, opts PaymentOptions) (domain.Payment, error) {
	start := o.now()
	defer o.metrics.ObserveStep(string(domain.SagaStepInitiate), start)

	entry := o.logger.WithFields(log.Fields{"order_id": order.ID, "order_number": order.OrderNumber})

	payment, err := o.payments.Initiate(ctx, domain.PaymentRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      order.TotalAmount,
		Currency:    opts.Currency,
		CardNumber:  opts.CardNumber,
		Method:      opts.Method,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentAlreadyExists) {
			entry.Info("payment already exists for order")
		} else {
			entry.WithError(err).Warn("payment initiation failed")
		}
		return domain.Payment{}, err
	}

	entry = entry.WithFields(log.Fields{"payment_id": payment.ID, "payment_status": payment.Status})
	if err := o.link(ctx, order.ID, payment.ID); err != nil {
		// Платёж уже существует; callback всё равно сохранит ссылку.
		entry.WithError(err).Warn("failed to link payment to order")
	} else {
		entry.Info("payment linked to order")
	}
	return payment, nil
}

// link сохраняет PaymentID, перечитывая заказ при конфликте версий.
func (o *Orchestrator) link(ctx context.Context, orderID, paymentID string) error {
	start := o.now()
	defer o.metrics.ObserveStep(string(domain.SagaStepLink), start)

	ctx = context.WithoutCancel(ctx)
	return o.retry.RunCtx(ctx, func(ctx context.Context) error {
		order, err := o.orders.Get(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if order.PaymentID == paymentID {
			return nil
		}
		// Callback мог успеть привязать более новую попытку.
		if order.PaymentID != "" && order.PaymentStatus != domain.OrderPaymentUnpaid {
			return nil
		}
		order.PaymentID = paymentID
		order.UpdatedAt = o.now()
		return o.orders.Save(ctx, order)
	})
}
