// Package order реализует агрегат заказа: создание с проверкой каталога, жизненный цикл
// по таблице переходов и сверку с исходом платежа.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// PaymentStarter запускает оплату заказа. Реализуется saga.Orchestrator.
type PaymentStarter interface {
	StartPayment(ctx context.Context, order domain.Order, opts saga.PaymentOptions) (domain.Payment, error)
}

// ItemInput — позиция из запроса клиента; цена берётся из каталога.
type ItemInput struct {
	ProductID string
	Quantity  int
}

// CreateInput — вход Create.
type CreateInput struct {
	Items           []ItemInput
	ShippingAddress domain.ShippingAddress
	Notes           string
	Payment         *saga.PaymentOptions
}

// CreateResult — созданный заказ и, если удалось, платёж.
// PaymentErr заполнен, когда инициация оплаты не удалась; заказ при этом сохранён.
type CreateResult struct {
	Order      domain.Order
	Payment    *domain.Payment
	PaymentErr error
}

// Detail — заказ с необязательным актуальным платежом.
type Detail struct {
	Order   domain.Order
	Payment *domain.Payment
}

// Options задаёт необязательные зависимости Service.
type Options struct {
	Payments PaymentStarter
	Lookup   domain.PaymentLookup
	Events   domain.OutboxRepository
	Metrics  *metrics.SagaMetrics
	Logger   *log.Entry
	Clock    func() time.Time
	Retry    saga.RetryConfig
}

// Option настраивает Service.
type Option func(*Options)

// WithPayments задаёт запуск оплаты после создания заказа и в Pay.
func WithPayments(p PaymentStarter) Option {
	return func(o *Options) { o.Payments = p }
}

// WithPaymentLookup включает обогащение Get актуальным платежом.
func WithPaymentLookup(l domain.PaymentLookup) Option {
	return func(o *Options) { o.Lookup = l }
}

// WithEventOutbox включает запись событий заказа в outbox.
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

func WithRetryConfig(cfg saga.RetryConfig) Option {
	return func(o *Options) { o.Retry = cfg }
}

// Service — агрегат заказа.
type Service struct {
	repo     domain.OrderRepository
	catalog  domain.Catalog
	payments PaymentStarter
	lookup   domain.PaymentLookup
	events   domain.OutboxRepository
	metrics  *metrics.SagaMetrics
	logger   *log.Entry
	now      func() time.Time
	retry    *retrier.Retrier
}

// NewService собирает сервис заказов.
func NewService(repo domain.OrderRepository, catalog domain.Catalog, options ...Option) *Service {
	opts := Options{Retry: saga.DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "order-service")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     repo,
		catalog:  catalog,
		payments: opts.Payments,
		lookup:   opts.Lookup,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Clock,
		retry:    saga.NewConflictRetrier(opts.Retry),
	}
}

// Create проверяет позиции по каталогу, сохраняет заказ в pending и запускает оплату.
// Сбой оплаты не отменяет создание заказа.
func (s *Service) Create(ctx context.Context, requester domain.Claims, in CreateInput) (CreateResult, error) {
	start := s.now()
	defer s.metrics.ObserveStep(string(domain.SagaStepValidate), start)

	if requester.UserID == "" {
		return CreateResult{}, domain.ErrUserIDRequired
	}
	items, err := s.priceItems(ctx, in.Items)
	if err != nil {
		return CreateResult{}, err
	}

	order := domain.NewOrder(uuid.NewString(), requester.UserID, items, in.ShippingAddress, in.Notes, s.now())
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return CreateResult{}, errors.Join(errs...)
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return CreateResult{}, fmt.Errorf("create order: %w", err)
	}

	entry := s.logger.WithFields(log.Fields{"order_id": order.ID, "order_number": order.OrderNumber})
	entry.WithField("total", order.TotalAmount.StringFixed(2)).Info("order created")
	s.publish(ctx, domain.EventOrderCreated, order)

	result := CreateResult{Order: order}
	if s.payments == nil {
		return result, nil
	}

	opts := saga.PaymentOptions{}
	if in.Payment != nil {
		opts = *in.Payment
	}
	payment, err := s.payments.StartPayment(ctx, order, opts)
	if err != nil {
		entry.WithError(err).Warn("payment initiation failed, order kept pending")
		result.PaymentErr = err
		return result, nil
	}
	result.Payment = &payment

	// Оркестратор мог записать ссылку на платёж, а callback успеть сменить статус.
	if fresh, err := s.repo.Get(context.WithoutCancel(ctx), order.ID); err == nil {
		result.Order = fresh
	}
	return result, nil
}

func (s *Service) priceItems(ctx context.Context, inputs []ItemInput) ([]domain.OrderItem, error) {
	if len(inputs) == 0 {
		return nil, domain.ErrItemsRequired
	}
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		if in.ProductID == "" {
			return nil, domain.ErrProductIDRequired
		}
		if in.Quantity < 1 {
			return nil, domain.ErrItemQtyInvalid
		}

		product, err := s.catalog.GetProduct(ctx, in.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, in.ProductID)
			}
			s.logger.WithError(err).WithField("product_id", in.ProductID).Warn("catalog lookup failed")
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, in.ProductID)
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, product.Name)
		}
		if in.Quantity > product.Stock {
			return nil, fmt.Errorf("%w for %s: requested %d, available %d",
				domain.ErrInsufficientStock, product.Name, in.Quantity, product.Stock)
		}
		items = append(items, domain.OrderItem{
			ProductID: in.ProductID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  in.Quantity,
		})
	}
	return items, nil
}

// List возвращает страницу заказов; не-администратор видит только свои.
func (s *Service) List(ctx context.Context, requester domain.Claims, filter domain.OrderFilter) ([]domain.Order, domain.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Pagination{}, domain.ErrOrderStatusInvalid
	}
	if !requester.IsAdmin() {
		filter.UserID = requester.UserID
	}
	filter.Page, filter.Limit = domain.NormalizePage(filter.Page, filter.Limit)

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list orders: %w", err)
	}
	return orders, domain.NewPagination(total, filter.Page, filter.Limit), nil
}

// Get возвращает заказ владельцу или администратору. При enrich к нему добавляется
// актуальный платёж; ошибки этого запроса игнорируются.
func (s *Service) Get(ctx context.Context, requester domain.Claims, id string, enrich bool) (Detail, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if !requester.CanAccess(order.UserID) {
		return Detail{}, domain.ErrAccessDenied
	}

	detail := Detail{Order: order}
	if enrich && s.lookup != nil {
		payment, err := s.lookup.LatestForOrder(ctx, order.ID, requester)
		if err == nil {
			detail.Payment = &payment
		} else if !errors.Is(err, domain.ErrPaymentNotFound) {
			s.logger.WithError(err).WithField("order_id", order.ID).Debug("payment lookup failed")
		}
	}
	return detail, nil
}

// UpdateStatus меняет статус по таблице переходов. Только для администратора.
func (s *Service) UpdateStatus(ctx context.Context, requester domain.Claims, id string, status domain.OrderStatus, note string) (domain.Order, error) {
	if !requester.IsAdmin() {
		return domain.Order{}, domain.ErrAccessDenied
	}
	if !status.Valid() {
		return domain.Order{}, domain.ErrOrderStatusInvalid
	}

	order, err := s.mutate(ctx, id, func(o *domain.Order) (bool, error) {
		text := note
		if text == "" {
			text = fmt.Sprintf("Status changed from %s", o.Status)
		}
		return true, o.TransitionTo(status, text, s.now())
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.WithFields(log.Fields{"order_id": id, "status": status}).Info("order status updated")
	s.publish(ctx, domain.EventOrderStatus, order)
	return order, nil
}

// Cancel отменяет заказ владельца из pending или confirmed.
func (s *Service) Cancel(ctx context.Context, requester domain.Claims, id, reason string) (domain.Order, error) {
	order, err := s.mutate(ctx, id, func(o *domain.Order) (bool, error) {
		if !requester.CanAccess(o.UserID) {
			return false, domain.ErrAccessDenied
		}
		note := reason
		if note == "" {
			note = "Cancelled by user"
		}
		return true, o.TransitionTo(domain.OrderStatusCancelled, note, s.now())
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.WithField("order_id", id).Info("order cancelled")
	s.publish(ctx, domain.EventOrderStatus, order)
	return order, nil
}

// ApplyPaymentOutcome сверяет заказ с исходом платежа. Повторная доставка ничего не меняет.
func (s *Service) ApplyPaymentOutcome(ctx context.Context, outcome domain.PaymentOutcome) (domain.Order, error) {
	start := s.now()
	defer s.metrics.ObserveStep(string(domain.SagaStepReconcile), start)

	if err := outcome.Validate(); err != nil {
		s.metrics.RecordReconciliation(string(outcome.PaymentStatus), "invalid")
		return domain.Order{}, err
	}

	applied := false
	order, err := s.mutate(ctx, outcome.OrderID, func(o *domain.Order) (bool, error) {
		changed, err := o.ApplyPaymentOutcome(outcome, s.now())
		applied = changed
		return changed, err
	})
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrOrderNotFound) {
			result = "not_found"
		}
		s.metrics.RecordReconciliation(string(outcome.PaymentStatus), result)
		return domain.Order{}, err
	}

	entry := s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"payment_id":     outcome.PaymentID,
		"payment_status": outcome.PaymentStatus,
		"status":         order.Status,
	})
	if !applied {
		s.metrics.RecordReconciliation(string(outcome.PaymentStatus), "duplicate")
		entry.Debug("payment outcome already applied")
		return order, nil
	}
	s.metrics.RecordReconciliation(string(outcome.PaymentStatus), "applied")
	entry.Info("payment outcome applied")
	s.publish(ctx, domain.EventOrderStatus, order)
	return order, nil
}

// Pay повторно запускает оплату заказа в статусе pending.
func (s *Service) Pay(ctx context.Context, requester domain.Claims, id string, opts saga.PaymentOptions) (domain.Payment, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if !requester.CanAccess(order.UserID) {
		return domain.Payment{}, domain.ErrAccessDenied
	}
	if order.PaymentStatus == domain.OrderPaymentPaid {
		return domain.Payment{}, domain.ErrOrderAlreadyPaid
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Payment{}, fmt.Errorf("%w: cannot pay for order in status %s", domain.ErrInvalidTransition, order.Status)
	}
	if s.payments == nil {
		return domain.Payment{}, fmt.Errorf("%w: payments are not configured", domain.ErrUpstreamUnavailable)
	}
	return s.payments.StartPayment(ctx, order, opts)
}

// mutate перечитывает заказ, применяет fn и сохраняет, повторяя при конфликте версий.
// Если fn вернул changed=false, запись не сохраняется.
func (s *Service) mutate(ctx context.Context, id string, fn func(*domain.Order) (bool, error)) (domain.Order, error) {
	var result domain.Order
	err := s.retry.RunCtx(ctx, func(ctx context.Context) error {
		order, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		changed, err := fn(&order)
		if err != nil {
			return err
		}
		if changed {
			if err := s.repo.Save(ctx, order); err != nil {
				return err
			}
			order.Version++
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// publish пишет событие заказа в outbox; ошибка только логируется.
func (s *Service) publish(ctx context.Context, eventType string, order domain.Order) {
	if s.events == nil {
		return
	}
	event := wire.NewOrderEvent(eventType, order, s.now())
	msg, err := wire.OutboxMessage(domain.OutboxAggregateOrder, order.ID, eventType, event)
	if err == nil {
		_, err = s.events.Enqueue(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order event")
	}
}
