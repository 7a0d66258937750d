package saga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

type stubApplier struct {
	err      error
	outcomes []domain.PaymentOutcome
}

func (s *stubApplier) ApplyPaymentOutcome(_ context.Context, outcome domain.PaymentOutcome) (domain.Order, error) {
	s.outcomes = append(s.outcomes, outcome)
	return domain.Order{ID: outcome.OrderID}, s.err
}

func eventPayload(t *testing.T, status domain.PaymentStatus) []byte {
	t.Helper()
	event, ok := wire.NewPaymentEvent(domain.Payment{
		ID:       "pay_1",
		OrderID:  "order-1",
		UserID:   "user-1",
		Status:   status,
		Amount:   decimal.NewFromInt(25),
		Currency: "USD",
	}, time.Now().UTC())
	require.True(t, ok)
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return raw
}

func TestPaymentEventHandlerAppliesOutcome(t *testing.T) {
	applier := &stubApplier{}
	h := NewPaymentEventHandler(applier, testMetrics(), nil)

	require.NoError(t, h.Handle(context.Background(), eventPayload(t, domain.PaymentStatusRefunded)))

	require.Len(t, applier.outcomes, 1)
	assert.Equal(t, domain.PaymentOutcome{
		OrderID:       "order-1",
		PaymentStatus: domain.OrderPaymentRefunded,
		PaymentID:     "pay_1",
	}, applier.outcomes[0])
}

func TestPaymentEventHandlerSkipsPoisonMessages(t *testing.T) {
	applier := &stubApplier{}
	h := NewPaymentEventHandler(applier, nil, nil)

	assert.NoError(t, h.Handle(context.Background(), []byte("{not json")))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"type":"payment.processing","status":"processing","orderId":"o"}`)))
	assert.Empty(t, applier.outcomes)

	applier.err = domain.ErrOrderNotFound
	assert.NoError(t, h.Handle(context.Background(), eventPayload(t, domain.PaymentStatusSucceeded)))
}

func TestPaymentEventHandlerReturnsTransientErrors(t *testing.T) {
	applier := &stubApplier{err: errors.New("db down")}
	h := NewPaymentEventHandler(applier, nil, nil)

	err := h.Handle(context.Background(), eventPayload(t, domain.PaymentStatusFailed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
