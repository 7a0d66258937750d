package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const cacheKeyPrefix = "fulfillment:auth:"

// redisStore — подмножество *redis.Client, нужное кэшу.
type redisStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedVerifier кэширует успешные проверки в Redis на ttl.
// Отказы не кэшируются; недоступный Redis не мешает проверке.
type CachedVerifier struct {
	next   domain.TokenVerifier
	store  redisStore
	ttl    time.Duration
	logger *log.Entry
}

// NewCachedVerifier оборачивает verifier кэшем.
func NewCachedVerifier(next domain.TokenVerifier, store redisStore, ttl time.Duration, logger *log.Entry) *CachedVerifier {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = log.WithField("component", "auth-cache")
	}
	return &CachedVerifier{next: next, store: store, ttl: ttl, logger: logger}
}

type cachedClaims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
}

func (c *CachedVerifier) Verify(ctx context.Context, token string) (domain.Claims, error) {
	if token == "" {
		return domain.Claims{}, domain.ErrUnauthenticated
	}
	key := cacheKey(token)

	raw, err := c.store.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedClaims
		if json.Unmarshal(raw, &cached) == nil && cached.UserID != "" {
			return domain.Claims{UserID: cached.UserID, Role: domain.Role(cached.Role), Token: token}, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).Warn("auth cache read failed")
	}

	claims, err := c.next.Verify(ctx, token)
	if err != nil {
		return domain.Claims{}, err
	}
	payload, _ := json.Marshal(cachedClaims{UserID: claims.UserID, Role: string(claims.Role)})
	if err := c.store.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("auth cache write failed")
	}
	return claims, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

var _ domain.TokenVerifier = (*CachedVerifier)(nil)
