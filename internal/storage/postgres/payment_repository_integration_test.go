//go:build integration

package postgres

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
)

func samplePayment(orderID string, status domain.PaymentStatus, createdAt time.Time) domain.Payment {
	return domain.Payment{
		ID:          domain.NewPaymentID(),
		OrderID:     orderID,
		OrderNumber: "ORD-TEST-0001",
		UserID:      "user-1",
		Amount:      decimal.RequireFromString("25.00"),
		Currency:    "USD",
		Status:      status,
		Method:      domain.PaymentMethodCard,
		Metadata:    map[string]string{"source": "integration"},
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func newPaymentRepoForTest(t *testing.T) domain.PaymentRepository {
	t.Helper()
	repo, err := NewPaymentRepository(openPostgresStoreForIntegrationTest(t))
	require.NoError(t, err)
	return repo
}

func TestPaymentRepository_PostgresDuplicateGuard(t *testing.T) {
	repo := newPaymentRepoForTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	failed := samplePayment("order-1", domain.PaymentStatusFailed, now.Add(-time.Minute))
	_, err := repo.CreateIfNoActive(ctx, failed)
	require.NoError(t, err)

	active := samplePayment("order-1", domain.PaymentStatusProcessing, now)
	_, err = repo.CreateIfNoActive(ctx, active)
	require.NoError(t, err)

	_, err = repo.CreateIfNoActive(ctx, samplePayment("order-1", domain.PaymentStatusProcessing, now))
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyExists)
	existing, ok := domain.ExistingPayment(err)
	require.True(t, ok)
	assert.Equal(t, active.ID, existing.ID)

	active.Status = domain.PaymentStatusCancelled
	require.NoError(t, repo.Save(ctx, active))

	_, err = repo.CreateIfNoActive(ctx, samplePayment("order-1", domain.PaymentStatusProcessing, now.Add(time.Second)))
	require.NoError(t, err)
}

func TestPaymentRepository_PostgresConcurrentCreate(t *testing.T) {
	repo := newPaymentRepoForTest(t)
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateIfNoActive(ctx, samplePayment("order-race", domain.PaymentStatusProcessing, time.Now().UTC()))
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
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
}

func TestPaymentRepository_PostgresGetLatestListSave(t *testing.T) {
	repo := newPaymentRepoForTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := samplePayment("order-2", domain.PaymentStatusFailed, now.Add(-time.Minute))
	first.FailureReason = "card_declined"
	second := samplePayment("order-2", domain.PaymentStatusProcessing, now)
	for _, p := range []domain.Payment{first, second} {
		_, err := repo.CreateIfNoActive(ctx, p)
		require.NoError(t, err)
	}

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "card_declined", got.FailureReason)
	assert.Equal(t, "integration", got.Metadata["source"])
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(25)))

	latest, err := repo.LatestByOrder(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	processed := now.Add(time.Second)
	refund := decimal.RequireFromString("10.50")
	second.Status = domain.PaymentStatusRefunded
	second.GatewayTransactionID = "txn_1_abcdef"
	second.GatewayResponse = []byte(`{"simulated":true}`)
	second.ProcessedAt = &processed
	second.RefundedAt = &processed
	second.RefundAmount = &refund
	second.RefundTransactionID = "ref_1"
	require.NoError(t, repo.Save(ctx, second))

	saved, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, saved.Status)
	require.NotNil(t, saved.RefundAmount)
	assert.True(t, saved.RefundAmount.Equal(refund))
	assert.JSONEq(t, `{"simulated":true}`, string(saved.GatewayResponse))

	listed, total, err := repo.List(ctx, domain.PaymentFilter{UserID: "user-1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, listed, 1)
	assert.Equal(t, second.ID, listed[0].ID)

	_, err = repo.Get(ctx, "pay_missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
	_, err = repo.LatestByOrder(ctx, "order-missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
	require.ErrorIs(t, repo.Save(ctx, samplePayment("order-3", domain.PaymentStatusFailed, now)), domain.ErrPaymentNotFound)
}

func TestPaymentRepository_PostgresTransition(t *testing.T) {
	repo := newPaymentRepoForTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := samplePayment("order-refund", domain.PaymentStatusSucceeded, now)
	_, err := repo.CreateIfNoActive(ctx, p)
	require.NoError(t, err)

	const workers = 6
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

	_, err = repo.CreateIfNoActive(ctx, samplePayment("order-refund", domain.PaymentStatusPending, now.Add(time.Second)))
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyExists)

	refund := decimal.NewFromInt(25)
	p.Status = domain.PaymentStatusRefunded
	p.RefundAmount = &refund
	p.RefundTransactionID = "ref_1_abcdef"
	require.NoError(t, repo.Transition(ctx, p, domain.PaymentStatusRefunding))
	require.ErrorIs(t, repo.Transition(ctx, p, domain.PaymentStatusRefunding), domain.ErrPaymentStatusChanged)

	saved, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, saved.Status)
	assert.Equal(t, "ref_1_abcdef", saved.RefundTransactionID)

	missing := samplePayment("order-none", domain.PaymentStatusSucceeded, now)
	require.ErrorIs(t, repo.Transition(ctx, missing, domain.PaymentStatusSucceeded), domain.ErrPaymentNotFound)
}
