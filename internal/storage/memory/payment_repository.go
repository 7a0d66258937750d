package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// paymentRepositoryInMemory хранит платежи и держит инвариант «один активный платёж на заказ».
type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Payment
	// order id -> payment ids в порядке создания.
	byOrder map[string][]string
}

// NewPaymentRepository создаёт in-memory реализацию PaymentRepository.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items:   make(map[string]domain.Payment),
		byOrder: make(map[string][]string),
	}
}

// CreateIfNoActive проверяет и вставляет под одной блокировкой.
func (r *paymentRepositoryInMemory) CreateIfNoActive(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byOrder[payment.OrderID] {
		if existing := r.items[id]; existing.Status.Active() {
			return domain.Payment{}, &domain.PaymentConflictError{Existing: clonePayment(existing)}
		}
	}
	if _, exists := r.items[payment.ID]; exists {
		return domain.Payment{}, &domain.PaymentConflictError{Existing: clonePayment(r.items[payment.ID])}
	}

	r.items[payment.ID] = clonePayment(payment)
	r.byOrder[payment.OrderID] = append(r.byOrder[payment.OrderID], payment.ID)
	return clonePayment(payment), nil
}

func (r *paymentRepositoryInMemory) Get(_ context.Context, id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(payment), nil
}

func (r *paymentRepositoryInMemory) LatestByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		latest domain.Payment
		found  bool
	)
	for _, id := range r.byOrder[orderID] {
		p := r.items[id]
		if !found || !p.CreatedAt.Before(latest.CreatedAt) {
			latest = p
			found = true
		}
	}
	if !found {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(latest), nil
}

func (r *paymentRepositoryInMemory) List(_ context.Context, filter domain.PaymentFilter) ([]domain.Payment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Payment, 0, len(r.items))
	for _, p := range r.items {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page := paginate(matched, filter.Page, filter.Limit)
	result := make([]domain.Payment, 0, len(page))
	for _, p := range page {
		result = append(result, clonePayment(p))
	}
	return result, total, nil
}

// Save перезаписывает существующий платёж.
func (r *paymentRepositoryInMemory) Save(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.items[payment.ID] = clonePayment(payment)
	return nil
}

// Transition сравнивает статус и записывает под одной блокировкой.
func (r *paymentRepositoryInMemory) Transition(_ context.Context, payment domain.Payment, from domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Status != from {
		return domain.ErrPaymentStatusChanged
	}
	r.items[payment.ID] = clonePayment(payment)
	return nil
}

func clonePayment(src domain.Payment) domain.Payment {
	dst := src
	dst.GatewayResponse = append([]byte(nil), src.GatewayResponse...)
	if src.Metadata != nil {
		dst.Metadata = make(map[string]string, len(src.Metadata))
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
	if src.ProcessedAt != nil {
		t := *src.ProcessedAt
		dst.ProcessedAt = &t
	}
	if src.RefundedAt != nil {
		t := *src.RefundedAt
		dst.RefundedAt = &t
	}
	if src.RefundAmount != nil {
		a := *src.RefundAmount
		dst.RefundAmount = &a
	}
	return dst
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
