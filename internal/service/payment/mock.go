package payment

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MockGateway — настраиваемая заглушка PaymentGateway для тестов.
type MockGateway struct {
	mu sync.Mutex

	ChargeResult domain.ChargeResult
	ChargeErr    error
	RefundResult domain.RefundResult
	RefundErr    error
	// Block, если задан, задерживает Charge до закрытия канала или отмены ctx.
	Block chan struct{}
	// RefundBlock так же задерживает Refund.
	RefundBlock chan struct{}

	chargeCalls int
	refundCalls int
}

// NewMockGateway возвращает заглушку с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		ChargeResult: domain.ChargeResult{
			Success:       true,
			TransactionID: "txn_mock",
			CardLast4:     "4242",
			CardBrand:     "Visa",
			Response:      map[string]any{"simulated": true, "status": "succeeded"},
		},
		RefundResult: domain.RefundResult{Success: true, RefundID: "ref_mock"},
	}
}

// Charge возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) Charge(ctx context.Context, _ domain.ChargeRequest) (domain.ChargeResult, error) {
	m.mu.Lock()
	m.chargeCalls++
	block := m.Block
	result, err := m.ChargeResult, m.ChargeErr
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.ChargeResult{}, ctx.Err()
		}
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now().UTC()
	}
	return result, err
}

// Refund возвращает настроенный результат и считает вызовы.
func (m *MockGateway) Refund(ctx context.Context, _ domain.RefundRequest) (domain.RefundResult, error) {
	m.mu.Lock()
	m.refundCalls++
	block := m.RefundBlock
	result, err := m.RefundResult, m.RefundErr
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.RefundResult{}, ctx.Err()
		}
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now().UTC()
	}
	return result, err
}

// ChargeCalls возвращает число вызовов Charge.
func (m *MockGateway) ChargeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chargeCalls
}

// RefundCalls возвращает число вызовов Refund.
func (m *MockGateway) RefundCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refundCalls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
