package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Product — живой снимок товара из каталога.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	IsActive bool
}

// Catalog описывает обращение к сервису каталога.
type Catalog interface {
	// GetProduct возвращает товар или ErrProductNotFound (в том числе при сбое транспорта).
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// TokenVerifier проверяет bearer-токен и возвращает claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// ChargeRequest — вход платёжного шлюза.
type ChargeRequest struct {
	Amount     decimal.Decimal
	Currency   string
	Method     PaymentMethod
	CardNumber string
}

// ChargeResult — исход списания. Отказ шлюза — валидный исход, а не ошибка.
type ChargeResult struct {
	Success       bool
	TransactionID string
	FailureReason string
	CardLast4     string
	CardBrand     string
	Response      map[string]any
	ProcessedAt   time.Time
}

// RefundRequest — вход возврата.
type RefundRequest struct {
	TransactionID string
	Amount        decimal.Decimal
}

// RefundResult — исход возврата.
type RefundResult struct {
	Success       bool
	RefundID      string
	FailureReason string
	ProcessedAt   time.Time
}

// PaymentGateway описывает платёжный процессор.
type PaymentGateway interface {
	// Charge возвращает ошибку только при отмене ctx.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// PaymentRequest — запрос заказа на инициацию оплаты.
type PaymentRequest struct {
	OrderID     string
	OrderNumber string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	CardNumber  string
	Method      string
}

// PaymentInitiator — клиент платёжного сервиса на стороне заказа.
type PaymentInitiator interface {
	// Initiate возвращает созданный платёж (succeeded или failed).
	// Дубликат возвращается как *PaymentConflictError с существующим платежом.
	Initiate(ctx context.Context, req PaymentRequest) (Payment, error)
}

// PaymentLookup читает актуальный платёж по заказу от имени запрашивающего.
type PaymentLookup interface {
	LatestForOrder(ctx context.Context, orderID string, claims Claims) (Payment, error)
}

// OrderNotifier доставляет исход платежа в сервис заказов. Ошибки не возвращаются вызывающему.
type OrderNotifier interface {
	Notify(ctx context.Context, outcome PaymentOutcome)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по Idempotency-Key.
// Записи адресуются парой (scope, key).
type IdempotencyRepository interface {
	// CreateProcessing регистрирует ключ. Занятый ключ возвращает существующую запись вместе с
	// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch; просроченный освобождается.
	CreateProcessing(ctx context.Context, key IdempotencyKey, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key IdempotencyKey) (IdempotencyRecord, error)
	// Complete сохраняет ответ; статус записи выводится из httpStatus.
	Complete(ctx context.Context, key IdempotencyKey, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SagaStep задаёт константы шагов для метрик/логов.
type SagaStep string

const (
	SagaStepValidate  SagaStep = "validate"
	SagaStepInitiate  SagaStep = "initiate"
	SagaStepLink      SagaStep = "link"
	SagaStepReconcile SagaStep = "reconcile"
	SagaStepNotify    SagaStep = "notify"
	SagaStepRefund    SagaStep = "refund"
)

// Типы outbox-сообщений.
const (
	OutboxAggregatePayment = "payment"
	OutboxAggregateOrder   = "order"

	// EventPaymentCallback — доставка callback в сервис заказов.
	EventPaymentCallback = "payment.callback"
	// Доменные события для Kafka.
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventOrderCreated     = "order.created"
	EventOrderStatus      = "order.status_changed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
