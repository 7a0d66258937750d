package domain

import (
	"fmt"
	"time"
)

// PaymentOutcome — тело callback от платёжного сервиса к заказу.
type PaymentOutcome struct {
	OrderID       string
	PaymentStatus OrderPaymentStatus
	PaymentID     string
}

// Validate проверяет обязательные поля callback.
func (o PaymentOutcome) Validate() error {
	if o.OrderID == "" {
		return ErrOrderIDRequired
	}
	if _, _, ok := outcomeTarget(o.PaymentStatus); !ok {
		return ErrPaymentStatusInvalid
	}
	return nil
}

// OutcomeForPayment сводит статус платежа к статусу оплаты заказа.
// Для нетерминальных статусов возвращает false.
func OutcomeForPayment(p Payment) (PaymentOutcome, bool) {
	var status OrderPaymentStatus
	switch p.Status {
	case PaymentStatusSucceeded:
		status = OrderPaymentPaid
	case PaymentStatusFailed:
		status = OrderPaymentFailed
	case PaymentStatusRefunded:
		status = OrderPaymentRefunded
	default:
		return PaymentOutcome{}, false
	}
	return PaymentOutcome{OrderID: p.OrderID, PaymentStatus: status, PaymentID: p.ID}, true
}

func outcomeTarget(status OrderPaymentStatus) (OrderStatus, string, bool) {
	switch status {
	case OrderPaymentPaid:
		return OrderStatusConfirmed, "Payment confirmed", true
	case OrderPaymentFailed:
		return OrderStatusCancelled, "Payment failed", true
	case OrderPaymentRefunded:
		return OrderStatusRefunded, "Payment refunded", true
	default:
		return "", "", false
	}
}

// ApplyPaymentOutcome применяет исход платежа к заказу.
// Повторная доставка того же исхода ничего не меняет и возвращает false.
// Статус заказа никогда не откатывается: если ребра нет, зеркалируется только оплата.
func (o *Order) ApplyPaymentOutcome(outcome PaymentOutcome, at time.Time) (bool, error) {
	if err := outcome.Validate(); err != nil {
		return false, err
	}
	target, note, _ := outcomeTarget(outcome.PaymentStatus)

	samePayment := outcome.PaymentID == "" || outcome.PaymentID == o.PaymentID
	if samePayment && o.PaymentStatus == outcome.PaymentStatus && o.Status == target {
		return false, nil
	}

	// Запоздавший отказ по старой попытке не должен отменять уже оплаченный заказ.
	if outcome.PaymentStatus == OrderPaymentFailed && o.PaymentStatus == OrderPaymentPaid && !samePayment {
		return false, nil
	}

	if outcome.PaymentID != "" {
		o.PaymentID = outcome.PaymentID
	}
	o.PaymentStatus = outcome.PaymentStatus

	switch {
	case o.Status == target:
		o.appendHistory(o.Status, note, at)
	case CanTransition(o.Status, target):
		o.Status = target
		o.appendHistory(target, note, at)
	default:
		o.appendHistory(o.Status, fmt.Sprintf("%s (status %s retained)", note, o.Status), at)
	}
	return true, nil
}
