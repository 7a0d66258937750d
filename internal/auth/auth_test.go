package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestJWTVerifier(t *testing.T) {
	verifier, err := NewJWTVerifier("s3cret")
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		token, err := Issue("s3cret", "u-1", domain.RoleAdmin, time.Hour)
		require.NoError(t, err)

		claims, err := verifier.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "u-1", claims.UserID)
		assert.True(t, claims.IsAdmin())
		assert.Equal(t, token, claims.Token)
	})

	t.Run("unknown role falls back to customer", func(t *testing.T) {
		token, err := Issue("s3cret", "u-2", "superuser", time.Hour)
		require.NoError(t, err)
		claims, err := verifier.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleCustomer, claims.Role)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := Issue("other", "u-1", domain.RoleCustomer, time.Hour)
		require.NoError(t, err)
		_, err = verifier.Verify(context.Background(), token)
		require.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := Issue("s3cret", "u-1", domain.RoleCustomer, -time.Minute)
		require.NoError(t, err)
		_, err = verifier.Verify(context.Background(), token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"id": "u-1", "exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = verifier.Verify(context.Background(), token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	_, err = NewJWTVerifier("")
	require.Error(t, err)
}

func TestRemoteVerifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/verify" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = io.WriteString(w, `{"valid":true,"user":{"_id":"u-1","role":"admin"}}`)
		case "Bearer invalid":
			_, _ = io.WriteString(w, `{"valid":false}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"Invalid token"}`)
		}
	}))
	defer server.Close()

	verifier, err := NewRemoteVerifier(server.URL, time.Second, nil)
	require.NoError(t, err)

	claims, err := verifier.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, domain.Claims{UserID: "u-1", Role: domain.RoleAdmin, Token: "good"}, claims)

	_, err = verifier.Verify(context.Background(), "invalid")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.Verify(context.Background(), "expired")
	var statusErr *domain.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.JSONEq(t, `{"message":"Invalid token"}`, string(statusErr.Body))
}

func TestRemoteVerifier_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	verifier, err := NewRemoteVerifier(url, time.Second, nil)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), "good")
	require.ErrorIs(t, err, domain.ErrAuthUnavailable)
}

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttl     time.Duration
	readErr error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return redis.NewStringResult("", f.readErr)
	}
	value, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string]string)
	}
	f.data[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

type countingVerifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (v *countingVerifier) Verify(_ context.Context, token string) (domain.Claims, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return domain.Claims{}, v.err
	}
	return domain.Claims{UserID: "u-" + token, Role: domain.RoleCustomer, Token: token}, nil
}

func TestCachedVerifier(t *testing.T) {
	store := &fakeRedis{}
	next := &countingVerifier{}
	verifier := NewCachedVerifier(next, store, 30*time.Second, nil)

	for i := 0; i < 3; i++ {
		claims, err := verifier.Verify(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, "u-abc", claims.UserID)
		assert.Equal(t, "abc", claims.Token)
	}
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 30*time.Second, store.ttl)
	assert.NotContains(t, store.data, "abc")
}

func TestCachedVerifier_DoesNotCacheFailures(t *testing.T) {
	store := &fakeRedis{}
	next := &countingVerifier{err: ErrInvalidToken}
	verifier := NewCachedVerifier(next, store, time.Minute, nil)

	_, err := verifier.Verify(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = verifier.Verify(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 2, next.calls)
	assert.Empty(t, store.data)
}

func TestCachedVerifier_RedisDown(t *testing.T) {
	store := &fakeRedis{readErr: errors.New("connection refused")}
	next := &countingVerifier{}
	verifier := NewCachedVerifier(next, store, time.Minute, nil)

	claims, err := verifier.Verify(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "u-abc", claims.UserID)
}
