package domain

import "fmt"

// orderTransitions — таблица допустимых переходов статусов заказа. Входит в wire-контракт.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  nil,
	OrderStatusCancelled:  nil,
	OrderStatusRefunded:   nil,
}

// CanTransition проверяет, есть ли ребро from -> to в таблице переходов.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions возвращает копию списка статусов, достижимых из from.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	return append([]OrderStatus(nil), orderTransitions[from]...)
}

// TransitionError описывает отклонённый переход и сводится к ErrInvalidTransition.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
