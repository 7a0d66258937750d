//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func ordersKey(user, value string) domain.IdempotencyKey {
	return domain.NewIdempotencyKey(user, "POST", "/api/orders", value)
}

func TestIdempotencyRepository_PostgresCreateGetAndComplete(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	key := ordersKey("user-1", "idem-test-key-done")
	hash := "req-hash-1"
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, key, hash, ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	require.NoError(t, repo.Complete(ctx, key, []byte(`{"order":{"id":"o-1"}}`), 201))

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, key, got.ID())
	require.Equal(t, hash, got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.JSONEq(t, `{"order":{"id":"o-1"}}`, string(got.ResponseBody))
	require.True(t, got.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, got.TTLAt)

	require.ErrorIs(t, repo.Complete(ctx, ordersKey("user-1", "idem-missing"), nil, 201), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresConflictAndHashMismatch(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	key := ordersKey("user-1", "idem-conflict")
	ttl := time.Now().UTC().Add(time.Hour)
	_, err := repo.CreateProcessing(ctx, key, "req-hash-a", ttl)
	require.NoError(t, err)

	existing, err := repo.CreateProcessing(ctx, key, "req-hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, domain.IdempotencyStatusProcessing, existing.Status)

	_, err = repo.CreateProcessing(ctx, key, "req-hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_PostgresScopesAreIndependent(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	first := ordersKey("user-1", "idem-shared")
	second := ordersKey("user-2", "idem-shared")

	_, err := repo.CreateProcessing(ctx, first, "hash-1", ttl)
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, second, "hash-2", ttl)
	require.NoError(t, err)

	require.NoError(t, repo.Complete(ctx, first, []byte(`{}`), 402))

	other, err := repo.Get(ctx, second)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, other.Status)
	require.Equal(t, "hash-2", other.RequestHash)

	done, err := repo.Get(ctx, first)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, done.Status)
}

func TestIdempotencyRepository_PostgresExpiredKeyIsReusable(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	key := ordersKey("user-1", "idem-expired")

	_, err := repo.CreateProcessing(ctx, key, "old-hash", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, key, []byte(`{"stale":true}`), 201))

	rec, err := repo.CreateProcessing(ctx, key, "new-hash", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "new-hash", rec.RequestHash)

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
	require.Empty(t, got.ResponseBody)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	now := time.Now().UTC()
	for i, value := range []string{"idem-expired-1", "idem-expired-2", "idem-expired-3"} {
		_, err := repo.CreateProcessing(ctx, ordersKey("user-9", value), "h", now.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, err)
	}
	active := ordersKey("user-9", "idem-active-1")
	_, err := repo.CreateProcessing(ctx, active, "h4", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, active)
	require.NoError(t, err)
}
