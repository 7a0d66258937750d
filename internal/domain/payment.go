package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж зарегистрирован, обработка не начата.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing — запрос ушёл в шлюз.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusSucceeded — шлюз подтвердил списание.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusFailed — шлюз отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunding — возврат захвачен одним запросом и ушёл в шлюз.
	PaymentStatusRefunding PaymentStatus = "refunding"
	// PaymentStatusRefunded — по успешному платежу проведён возврат.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusCancelled — попытка прервана до получения исхода.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Valid проверяет, что статус входит в перечисление.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusSucceeded,
		PaymentStatusFailed, PaymentStatusRefunding, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Active перечисляет статусы, попадающие под ограничение «не больше одного платежа на заказ».
func (s PaymentStatus) Active() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusRefunding:
		return true
	default:
		return false
	}
}

// ActivePaymentStatuses перечисляет активные статусы в стабильном порядке.
func ActivePaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusRefunding}
}

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodSimulated    PaymentMethod = "simulated"
)

// ParsePaymentMethod разбирает способ оплаты; пустая строка даёт значение по умолчанию.
func ParsePaymentMethod(raw string, hasCard bool) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		if hasCard {
			return PaymentMethodCard, nil
		}
		return PaymentMethodSimulated, nil
	case PaymentMethodCard:
		return PaymentMethodCard, nil
	case PaymentMethodPayPal:
		return PaymentMethodPayPal, nil
	case PaymentMethodBankTransfer:
		return PaymentMethodBankTransfer, nil
	case PaymentMethodSimulated:
		return PaymentMethodSimulated, nil
	default:
		return "", ErrPaymentMethodInvalid
	}
}

// DefaultCurrency подставляется, если валюта не передана.
const DefaultCurrency = "USD"

// NormalizeCurrency приводит код валюты к верхнему регистру с умолчанием USD.
func NormalizeCurrency(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultCurrency
	}
	return raw
}

// Payment описывает попытку оплаты заказа.
type Payment struct {
	ID                   string
	OrderID              string
	OrderNumber          string
	UserID               string
	Amount               decimal.Decimal
	Currency             string
	Status               PaymentStatus
	Method               PaymentMethod
	CardLast4            string
	CardBrand            string
	GatewayTransactionID string
	// GatewayResponse — непрозрачный ответ шлюза в JSON.
	GatewayResponse     []byte
	FailureReason       string
	ProcessedAt         *time.Time
	RefundedAt          *time.Time
	RefundAmount        *decimal.Decimal
	RefundTransactionID string
	Metadata            map[string]string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewPaymentID генерирует идентификатор вида pay_<20 hex>.
func NewPaymentID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "pay_" + raw[:20]
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if !p.Amount.IsPositive() {
		errs = append(errs, ErrPaymentAmountInvalid)
	}

	return errs
}

// OwnedBy сообщает, принадлежит ли платёж пользователю.
func (p *Payment) OwnedBy(userID string) bool {
	return userID != "" && p.UserID == userID
}
