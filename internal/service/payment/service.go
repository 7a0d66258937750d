// Package payment реализует агрегат платежа: инициацию с защитой от дублей, чтение и возврат.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// abandonTimeout ограничивает служебные записи, которые переживают отмену запроса.
const abandonTimeout = 5 * time.Second

// Options задаёт необязательные зависимости Service.
type Options struct {
	Notifier domain.OrderNotifier
	Events   domain.OutboxRepository
	Metrics  *metrics.SagaMetrics
	Logger   *log.Entry
	Clock    func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithNotifier задаёт доставку исхода платежа в сервис заказов.
func WithNotifier(notifier domain.OrderNotifier) Option {
	return func(o *Options) { o.Notifier = notifier }
}

// WithEventOutbox включает запись доменных событий платежа в outbox для Kafka.
func WithEventOutbox(repo domain.OutboxRepository) Option {
	return func(o *Options) { o.Events = repo }
}

func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// Service — агрегат платежа.
type Service struct {
	repo     domain.PaymentRepository
	gateway  domain.PaymentGateway
	notifier domain.OrderNotifier
	events   domain.OutboxRepository
	metrics  *metrics.SagaMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService собирает сервис платежей.
func NewService(repo domain.PaymentRepository, gateway domain.PaymentGateway, options ...Option) *Service {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "payment-service")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: opts.Notifier,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
}

// Initiate регистрирует попытку оплаты, проводит её через шлюз и сохраняет исход.
// Отказ шлюза не является ошибкой: возвращается платёж в статусе failed.
func (s *Service) Initiate(ctx context.Context, req domain.PaymentRequest) (domain.Payment, error) {
	start := s.now()
	defer s.metrics.ObserveStep(string(domain.SagaStepInitiate), start)

	method, err := domain.ParsePaymentMethod(req.Method, req.CardNumber != "")
	if err != nil {
		return domain.Payment{}, err
	}

	payment := domain.Payment{
		ID:          domain.NewPaymentID(),
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    domain.NormalizeCurrency(req.Currency),
		Status:      domain.PaymentStatusProcessing,
		Method:      method,
		CreatedAt:   start,
		UpdatedAt:   start,
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, errors.Join(errs...)
	}

	entry := s.logger.WithFields(log.Fields{"order_id": payment.OrderID, "payment_id": payment.ID})

	if _, err := s.repo.CreateIfNoActive(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrPaymentAlreadyExists) {
			s.metrics.RecordPaymentInitiation("conflict")
			entry.Info("payment already exists for order")
			return domain.Payment{}, err
		}
		s.metrics.RecordPaymentInitiation("error")
		return domain.Payment{}, fmt.Errorf("create payment: %w", err)
	}

	result, err := s.gateway.Charge(ctx, domain.ChargeRequest{
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Method:     payment.Method,
		CardNumber: req.CardNumber,
	})
	if err != nil {
		s.abandon(ctx, payment, "gateway call aborted: "+err.Error())
		s.metrics.RecordPaymentInitiation("error")
		return domain.Payment{}, fmt.Errorf("charge payment: %w", err)
	}

	applyCharge(&payment, result, s.now())
	if err := s.repo.Save(ctx, payment); err != nil {
		s.abandon(ctx, payment, "outcome persistence failed: "+err.Error())
		s.metrics.RecordPaymentInitiation("error")
		return domain.Payment{}, fmt.Errorf("persist payment outcome: %w", err)
	}

	if payment.Status == domain.PaymentStatusSucceeded {
		s.metrics.RecordPaymentInitiation("succeeded")
		entry.Info("payment succeeded")
	} else {
		s.metrics.RecordPaymentInitiation("declined")
		entry.WithField("failure_reason", payment.FailureReason).Info("payment declined")
	}

	s.announce(ctx, payment)
	return payment, nil
}

func applyCharge(payment *domain.Payment, result domain.ChargeResult, now time.Time) {
	processedAt := result.ProcessedAt
	if processedAt.IsZero() {
		processedAt = now
	}
	payment.ProcessedAt = &processedAt
	payment.UpdatedAt = now
	payment.CardLast4 = result.CardLast4
	payment.CardBrand = result.CardBrand
	if result.Response != nil {
		if raw, err := json.Marshal(result.Response); err == nil {
			payment.GatewayResponse = raw
		}
	}
	if result.Success {
		payment.Status = domain.PaymentStatusSucceeded
		payment.GatewayTransactionID = result.TransactionID
		return
	}
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = result.FailureReason
}

// abandon переводит прерванную попытку в cancelled, чтобы она не блокировала повтор.
func (s *Service) abandon(ctx context.Context, payment domain.Payment, reason string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	payment.Status = domain.PaymentStatusCancelled
	payment.FailureReason = reason
	payment.UpdatedAt = s.now()
	if err := s.repo.Save(saveCtx, payment); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("failed to cancel aborted payment attempt")
		return
	}
	s.logger.WithFields(log.Fields{"payment_id": payment.ID, "reason": reason}).Warn("payment attempt cancelled")
}

// announce уведомляет заказ и пишет доменное событие. Ошибки только логируются.
func (s *Service) announce(ctx context.Context, payment domain.Payment) {
	if outcome, ok := domain.OutcomeForPayment(payment); ok && s.notifier != nil {
		s.notifier.Notify(ctx, outcome)
	}
	if s.events == nil {
		return
	}
	event, ok := wire.NewPaymentEvent(payment, s.now())
	if !ok {
		return
	}
	msg, err := wire.OutboxMessage(domain.OutboxAggregatePayment, payment.ID, event.Type, event)
	if err == nil {
		_, err = s.events.Enqueue(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("failed to enqueue payment event")
	}
}

// Get возвращает платёж владельцу или администратору.
func (s *Service) Get(ctx context.Context, claims domain.Claims, id string) (domain.Payment, error) {
	payment, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if !claims.CanAccess(payment.UserID) {
		return domain.Payment{}, domain.ErrAccessDenied
	}
	return payment, nil
}

// GetByOrder возвращает последнюю попытку оплаты заказа.
func (s *Service) GetByOrder(ctx context.Context, claims domain.Claims, orderID string) (domain.Payment, error) {
	payment, err := s.repo.LatestByOrder(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if !claims.CanAccess(payment.UserID) {
		return domain.Payment{}, domain.ErrAccessDenied
	}
	return payment, nil
}

// List возвращает страницу платежей; не-администратор видит только свои.
func (s *Service) List(ctx context.Context, claims domain.Claims, filter domain.PaymentFilter) ([]domain.Payment, domain.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Pagination{}, fmt.Errorf("%w: unknown payment status %q", domain.ErrValidation, filter.Status)
	}
	if !claims.IsAdmin() {
		filter.UserID = claims.UserID
	}
	filter.Page, filter.Limit = domain.NormalizePage(filter.Page, filter.Limit)

	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list payments: %w", err)
	}
	return payments, domain.NewPagination(total, filter.Page, filter.Limit), nil
}

// Refund возвращает деньги по успешному платежу. amount=nil означает полный возврат.
// Платёж сначала захватывается условной записью succeeded -> refunding, поэтому
// из конкурентных запросов до шлюза доходит только один.
func (s *Service) Refund(ctx context.Context, claims domain.Claims, id string, amount *decimal.Decimal) (domain.Payment, error) {
	start := s.now()
	defer s.metrics.ObserveStep(string(domain.SagaStepRefund), start)

	if !claims.IsAdmin() {
		return domain.Payment{}, domain.ErrAccessDenied
	}
	payment, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}

	refundAmount := payment.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if !refundAmount.IsPositive() {
		return domain.Payment{}, domain.ErrPaymentAmountInvalid
	}
	if refundAmount.GreaterThan(payment.Amount) {
		return domain.Payment{}, domain.ErrRefundExceedsOriginal
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		return domain.Payment{}, domain.ErrPaymentNotRefundable
	}

	claimed := payment
	claimed.Status = domain.PaymentStatusRefunding
	claimed.UpdatedAt = s.now()
	if err := s.repo.Transition(ctx, claimed, domain.PaymentStatusSucceeded); err != nil {
		if errors.Is(err, domain.ErrPaymentStatusChanged) {
			return domain.Payment{}, domain.ErrPaymentNotRefundable
		}
		return domain.Payment{}, fmt.Errorf("claim refund: %w", err)
	}

	result, err := s.gateway.Refund(ctx, domain.RefundRequest{
		TransactionID: payment.GatewayTransactionID,
		Amount:        refundAmount,
	})
	if err != nil {
		s.metrics.RecordRefund("error")
		s.releaseRefund(ctx, payment)
		return domain.Payment{}, fmt.Errorf("refund payment: %w", err)
	}
	if !result.Success {
		s.metrics.RecordRefund("failed")
		s.logger.WithFields(log.Fields{"payment_id": id, "reason": result.FailureReason}).Warn("refund declined by gateway")
		s.releaseRefund(ctx, payment)
		return domain.Payment{}, &domain.RefundFailedError{Reason: result.FailureReason}
	}

	refundedAt := result.ProcessedAt
	if refundedAt.IsZero() {
		refundedAt = s.now()
	}
	payment.Status = domain.PaymentStatusRefunded
	payment.RefundedAt = &refundedAt
	payment.RefundAmount = &refundAmount
	payment.RefundTransactionID = result.RefundID
	payment.UpdatedAt = s.now()
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()
	if err := s.repo.Transition(saveCtx, payment, domain.PaymentStatusRefunding); err != nil {
		s.metrics.RecordRefund("error")
		s.logger.WithError(err).WithFields(log.Fields{
			"payment_id": id,
			"refund_id":  result.RefundID,
		}).Error("refund processed by gateway but not persisted")
		return domain.Payment{}, fmt.Errorf("persist refund: %w", err)
	}

	s.metrics.RecordRefund("succeeded")
	s.logger.WithFields(log.Fields{"payment_id": id, "amount": refundAmount.String()}).Info("payment refunded")
	s.announce(ctx, payment)
	return payment, nil
}

// releaseRefund возвращает захваченный платёж в succeeded после отказа шлюза.
func (s *Service) releaseRefund(ctx context.Context, payment domain.Payment) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	payment.Status = domain.PaymentStatusSucceeded
	payment.UpdatedAt = s.now()
	if err := s.repo.Transition(releaseCtx, payment, domain.PaymentStatusRefunding); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("failed to release refund claim")
	}
}
