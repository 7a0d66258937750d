package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DefaultTTL — время жизни ключа, после которого он снова свободен.
const DefaultTTL = 24 * time.Hour

// ErrRequestInProgress — запрос с тем же ключом ещё обрабатывается.
var ErrRequestInProgress = fmt.Errorf("%w: request with the same key is still processing", domain.ErrIdempotencyKeyAlreadyExists)

// Replay — сохранённый ответ, который нужно вернуть вместо повторного выполнения.
type Replay struct {
	HTTPStatus int
	Body       []byte
}

// Guard реализует протокол Idempotency-Key поверх IdempotencyRepository:
// первый запрос выполняется, повторы получают сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт guard; ttl<=0 означает DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, ttl: ttl, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

// HashRequest строит отпечаток запроса из метода, пути, субъекта и тела.
func HashRequest(method, path, subject string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{method, path, subject} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin регистрирует ключ. Возвращает Replay, если ответ уже сохранён.
// Ключ с другим телом даёт ErrIdempotencyHashMismatch, незавершённый даёт ErrRequestInProgress.
func (g *Guard) Begin(ctx context.Context, key domain.IdempotencyKey, requestHash string) (*Replay, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			return nil, ErrRequestInProgress
		}
		g.logger.WithFields(log.Fields{"scope": key.Scope, "idempotency_key": key.Value}).Debug("replaying stored response")
		return &Replay{HTTPStatus: record.ReplayStatus(), Body: record.ResponseBody}, nil
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return nil, err
	default:
		return nil, fmt.Errorf("register idempotency key: %w", err)
	}
}

// Complete сохраняет ответ для повторов. 2xx помечается done, остальное failed.
func (g *Guard) Complete(ctx context.Context, key domain.IdempotencyKey, httpStatus int, body []byte) {
	if err := g.repo.Complete(ctx, key, body, httpStatus); err != nil {
		g.logger.WithError(err).WithFields(log.Fields{"scope": key.Scope, "idempotency_key": key.Value}).Warn("failed to store idempotent response")
	}
}
