package domain

import "context"

const (
	// DefaultPageLimit — размер страницы по умолчанию.
	DefaultPageLimit = 10
	// MaxPageLimit ограничивает размер страницы сверху.
	MaxPageLimit = 100
)

// OrderFilter задаёт выборку заказов. Пустой UserID выбирает все заказы (для администратора).
type OrderFilter struct {
	UserID string
	Status OrderStatus
	Page   int
	Limit  int
}

// PaymentFilter задаёт выборку платежей.
type PaymentFilter struct {
	UserID string
	Status PaymentStatus
	Page   int
	Limit  int
}

// Pagination описывает страницу результата.
type Pagination struct {
	Total int
	Page  int
	Limit int
	Pages int
}

// NormalizePage подставляет page=1, limit=10 и ограничивает limit.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// Offset возвращает смещение для страницы.
func Offset(page, limit int) int {
	page, limit = NormalizePage(page, limit)
	return (page - 1) * limit
}

// NewPagination считает число страниц с округлением вверх.
func NewPagination(total, page, limit int) Pagination {
	page, limit = NormalizePage(page, limit)
	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return Pagination{Total: total, Page: page, Limit: limit, Pages: pages}
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderVersionConflict, если ID уже занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает страницу заказов (новые первыми) и общее количество.
	List(ctx context.Context, filter OrderFilter) ([]Order, int, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// PaymentRepository описывает хранилище платежей.
type PaymentRepository interface {
	// CreateIfNoActive атомарно вставляет платёж, если по заказу нет активного.
	// Иначе возвращает *PaymentConflictError с существующей записью.
	CreateIfNoActive(ctx context.Context, payment Payment) (Payment, error)
	Get(ctx context.Context, id string) (Payment, error)
	// LatestByOrder возвращает последний по времени создания платёж заказа.
	LatestByOrder(ctx context.Context, orderID string) (Payment, error)
	List(ctx context.Context, filter PaymentFilter) ([]Payment, int, error)
	Save(ctx context.Context, payment Payment) error
	// Transition записывает платёж, только если сохранённый статус равен from.
	// Иначе возвращает ErrPaymentStatusChanged (или ErrPaymentNotFound).
	Transition(ctx context.Context, payment Payment, from PaymentStatus) error
}
