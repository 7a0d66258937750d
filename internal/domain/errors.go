package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — базовая ошибка некорректного входа (400).
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserIDRequired = fmt.Errorf("%w: userId is required", ErrValidation)
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be at least 1", ErrValidation)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be non-negative", ErrValidation)
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrProductIDRequired = fmt.Errorf("%w: productId is required", ErrValidation)
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка отсутствующего идентификатора заказа в платежах и callback.
	ErrOrderIDRequired = fmt.Errorf("%w: orderId is required", ErrValidation)
	// Ошибка неположительной суммы платежа.
	ErrPaymentAmountInvalid = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	// ErrOrderStatusInvalid — статус заказа не входит в перечисление.
	ErrOrderStatusInvalid = fmt.Errorf("%w: unknown order status", ErrValidation)
	// ErrPaymentStatusInvalid — статус оплаты в callback не входит в {paid, failed, refunded}.
	ErrPaymentStatusInvalid = fmt.Errorf("%w: paymentStatus must be one of paid, failed, refunded", ErrValidation)
	// ErrPaymentMethodInvalid — неизвестный способ оплаты.
	ErrPaymentMethodInvalid = fmt.Errorf("%w: unknown payment method", ErrValidation)

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — переход статуса заказа отсутствует в таблице переходов.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrOrderAlreadyPaid — повторная оплата уже оплаченного заказа.
	ErrOrderAlreadyPaid = errors.New("order is already paid")

	// ErrProductNotFound — каталог не вернул товар (нет записи или сбой транспорта).
	ErrProductNotFound = errors.New("product not found")
	// ErrProductUnavailable — товар снят с продажи.
	ErrProductUnavailable = errors.New("product is not available")
	// ErrInsufficientStock — запрошено больше, чем есть на складе.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentAlreadyExists — по заказу уже есть активная попытка оплаты.
	ErrPaymentAlreadyExists = errors.New("a payment already exists for this order")
	// ErrPaymentDeclined — шлюз отклонил платёж (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentNotRefundable — возврат возможен только для успешного платежа.
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
	// ErrPaymentStatusChanged — статус платежа изменился между чтением и условной записью.
	ErrPaymentStatusChanged = errors.New("payment status changed concurrently")
	// ErrRefundExceedsOriginal — сумма возврата больше суммы платежа.
	ErrRefundExceedsOriginal = errors.New("refund amount cannot exceed original payment")
	// ErrRefundFailed — шлюз не смог провести возврат, платёж не изменён.
	ErrRefundFailed = errors.New("refund processing failed")

	// ErrUnauthenticated — отсутствует или не принят bearer-токен.
	ErrUnauthenticated = errors.New("access token required")
	// ErrAccessDenied — запрашивающий не владелец и не администратор.
	ErrAccessDenied = errors.New("access denied")
	// ErrAuthUnavailable — сервис аутентификации недоступен.
	ErrAuthUnavailable = errors.New("authentication service unavailable")
	// ErrUpstreamUnavailable — внешний сервис недоступен или ответил 5xx.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибка отсутствующего idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyInvalid — значение Idempotency-Key не проходит проверку.
	ErrIdempotencyKeyInvalid = fmt.Errorf("%w: invalid idempotency key", ErrValidation)
	// Ошибка отсутствующего хэша запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// PaymentConflictError несёт существующий активный платёж вместе с ErrPaymentAlreadyExists.
type PaymentConflictError struct {
	Existing Payment
}

func (e *PaymentConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPaymentAlreadyExists.Error(), e.Existing.ID)
}

func (e *PaymentConflictError) Unwrap() error { return ErrPaymentAlreadyExists }

// RefundFailedError несёт причину отказа шлюза в возврате.
type RefundFailedError struct {
	Reason string
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRefundFailed.Error(), e.Reason)
}

func (e *RefundFailedError) Unwrap() error { return ErrRefundFailed }

// UpstreamStatusError — внешний сервис ответил не-2xx; статус и тело проксируются клиенту как есть.
type UpstreamStatusError struct {
	Service    string
	StatusCode int
	Body       []byte
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Service, e.StatusCode)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// ExistingPayment достаёт платёж из ошибки конфликта дубликата, если он есть.
func ExistingPayment(err error) (Payment, bool) {
	var conflict *PaymentConflictError
	if errors.As(err, &conflict) {
		return conflict.Existing, true
	}
	return Payment{}, false
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
