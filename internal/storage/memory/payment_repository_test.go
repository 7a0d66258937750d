package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newPayment(orderID string, status domain.PaymentStatus, createdAt time.Time) domain.Payment {
	return domain.Payment{
		ID:        domain.NewPaymentID(),
		OrderID:   orderID,
		UserID:    "user-1",
		Amount:    decimal.NewFromInt(25),
		Currency:  "USD",
		Status:    status,
		Method:    domain.PaymentMethodSimulated,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestPaymentRepository_DuplicateGuard(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPaymentRepository()
	now := time.Now().UTC()

	first, err := repo.CreateIfNoActive(ctx, newPayment("order-1", domain.PaymentStatusProcessing, now))
	require.NoError(t, err)

	_, err = repo.CreateIfNoActive(ctx, newPayment("order-1", domain.PaymentStatusProcessing, now))
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyExists)
	existing, ok := domain.ExistingPayment(err)
	require.True(t, ok)
	assert.Equal(t, first.ID, existing.ID)

	first.Status = domain.PaymentStatusFailed
	require.NoError(t, repo.Save(ctx, first))

	retry, err := repo.CreateIfNoActive(ctx, newPayment("order-1", domain.PaymentStatusProcessing, now.Add(time.Second)))
	require.NoError(t, err)

	latest, err := repo.LatestByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, retry.ID, latest.ID)
}

func TestPaymentRepository_ConcurrentCreateKeepsOneActive(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPaymentRepository()

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.CreateIfNoActive(ctx, newPayment("order-1", domain.PaymentStatusProcessing, time.Now()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrPaymentAlreadyExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
}

func TestPaymentRepository_GetListSave(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPaymentRepository()
	base := time.Now().UTC()

	p1, err := repo.CreateIfNoActive(ctx, newPayment("order-1", domain.PaymentStatusSucceeded, base))
	require.NoError(t, err)
	p2 := newPayment("order-2", domain.PaymentStatusFailed, base.Add(time.Minute))
	p2.UserID = "user-2"
	_, err = repo.CreateIfNoActive(ctx, p2)
	require.NoError(t, err)

	got, err := repo.Get(ctx, p1.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(25)))

	_, err = repo.Get(ctx, "pay_missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
	_, err = repo.LatestByOrder(ctx, "order-missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)

	all, total, err := repo.List(ctx, domain.PaymentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, p2.ID, all[0].ID)

	mine, total, err := repo.List(ctx, domain.PaymentFilter{UserID: "user-1", Status: domain.PaymentStatusSucceeded})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, p1.ID, mine[0].ID)

	refunded := decimal.NewFromInt(10)
	p1.Status = domain.PaymentStatusRefunded
	p1.RefundAmount = &refunded
	require.NoError(t, repo.Save(ctx, p1))

	refunded = decimal.NewFromInt(99)
	got, _ = repo.Get(ctx, p1.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, got.Status)
	assert.True(t, got.RefundAmount.Equal(decimal.NewFromInt(10)))

	require.ErrorIs(t, repo.Save(ctx, newPayment("order-3", domain.PaymentStatusFailed, base)), domain.ErrPaymentNotFound)
}

func TestPaymentRepository_TransitionClaimsOnce(t *testing.T) {
	repo := memory.NewPaymentRepository()
	ctx := context.Background()

	p := newPayment("order-1", domain.PaymentStatusSucceeded, time.Now().UTC())
	_, err := repo.CreateIfNoActive(ctx, p)
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim := p
			claim.Status = domain.PaymentStatusRefunding
			err := repo.Transition(ctx, claim, domain.PaymentStatusSucceeded)
			if err == nil {
				mu.Lock()
				claimed++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrPaymentStatusChanged)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunding, got.Status)

	// refunding всё ещё держит заказ: новая попытка оплаты конфликтует.
	_, err = repo.CreateIfNoActive(ctx, newPayment("order-1", domain.PaymentStatusPending, time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyExists)

	p.Status = domain.PaymentStatusRefunded
	require.NoError(t, repo.Transition(ctx, p, domain.PaymentStatusRefunding))
	require.ErrorIs(t, repo.Transition(ctx, p, domain.PaymentStatusRefunding), domain.ErrPaymentStatusChanged)

	missing := newPayment("order-2", domain.PaymentStatusSucceeded, time.Now().UTC())
	require.ErrorIs(t, repo.Transition(ctx, missing, domain.PaymentStatusSucceeded), domain.ErrPaymentNotFound)
}
