package domain

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — оплата подтверждена, заказ принят в работу.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ комплектуется.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен (терминальный).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён (терминальный).
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — деньги по заказу возвращены (терминальный).
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid проверяет, что статус входит в перечисление.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// OrderPaymentStatus — зеркало исхода платежа в заказе для быстрого чтения.
type OrderPaymentStatus string

const (
	OrderPaymentUnpaid   OrderPaymentStatus = "unpaid"
	OrderPaymentPaid     OrderPaymentStatus = "paid"
	OrderPaymentFailed   OrderPaymentStatus = "failed"
	OrderPaymentRefunded OrderPaymentStatus = "refunded"
)

// OrderItem представляет одну позицию заказа со снимком цены из каталога.
type OrderItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	// Subtotal = UnitPrice * Quantity, считается при создании.
	Subtotal decimal.Decimal
}

// ShippingAddress непрозрачен для саги и хранится как есть.
type ShippingAddress struct {
	Street  string
	City    string
	State   string
	Zip     string
	Country string
}

// StatusChange — запись аудита смены статуса.
type StatusChange struct {
	Status    OrderStatus
	ChangedAt time.Time
	Note      string
}

// Order агрегирует состояние заказа, его позиции и журнал статусов.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	TotalAmount     decimal.Decimal
	Status          OrderStatus
	PaymentID       string
	PaymentStatus   OrderPaymentStatus
	StatusHistory   []StatusChange
	ShippingAddress ShippingAddress
	Notes           string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const defaultCountry = "US"

// NewOrder собирает заказ в статусе pending с пересчитанными суммами и первой записью аудита.
func NewOrder(id, userID string, items []OrderItem, address ShippingAddress, notes string, now time.Time) Order {
	if address.Country == "" {
		address.Country = defaultCountry
	}
	order := Order{
		ID:              id,
		OrderNumber:     NewOrderNumber(now),
		UserID:          userID,
		Items:           append([]OrderItem(nil), items...),
		Status:          OrderStatusPending,
		PaymentStatus:   OrderPaymentUnpaid,
		ShippingAddress: address,
		Notes:           notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusHistory: []StatusChange{
			{Status: OrderStatusPending, ChangedAt: now, Note: "Order created"},
		},
	}
	order.RecomputeTotals()
	return order
}

// RecomputeTotals пересчитывает subtotal позиций и итог заказа.
func (o *Order) RecomputeTotals() {
	total := decimal.Zero
	for i := range o.Items {
		item := &o.Items[i]
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)
	}
	o.TotalAmount = total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	calc := decimal.Zero
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if !item.Subtotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))) {
			errs = append(errs, ErrAmountMismatch)
		}
		calc = calc.Add(item.Subtotal)
	}
	if !calc.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OwnedBy сообщает, принадлежит ли заказ пользователю.
func (o *Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}

// TransitionTo переводит заказ в новый статус по таблице переходов и пишет аудит.
func (o *Order) TransitionTo(next OrderStatus, note string, at time.Time) error {
	if !next.Valid() {
		return ErrOrderStatusInvalid
	}
	if !CanTransition(o.Status, next) {
		return &TransitionError{From: o.Status, To: next}
	}
	o.Status = next
	o.appendHistory(next, note, at)
	return nil
}

func (o *Order) appendHistory(status OrderStatus, note string, at time.Time) {
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: status, ChangedAt: at, Note: note})
	o.UpdatedAt = at
}

const (
	orderNumberPrefix   = "ORD-"
	orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	orderNumberSuffix   = 4
)

// NewOrderNumber генерирует человекочитаемый номер: ORD-<base36 millis>-<4 случайных символа>.
func NewOrderNumber(now time.Time) string {
	var b strings.Builder
	b.WriteString(orderNumberPrefix)
	b.WriteString(strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)))
	b.WriteByte('-')
	limit := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := 0; i < orderNumberSuffix; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			n = big.NewInt(now.UnixNano() % int64(len(orderNumberAlphabet)))
		}
		b.WriteByte(orderNumberAlphabet[n.Int64()])
	}
	return b.String()
}
