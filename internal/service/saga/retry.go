package saga

import (
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// RetryConfig задаёт повтор сохранения заказа при конфликте версий.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
	}
}

// versionConflictClassifier повторяет только конфликт версий; остальные ошибки окончательные.
type versionConflictClassifier struct{}

func (versionConflictClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case domain.IsVersionConflict(err):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}

// NewConflictRetrier строит retrier с экспоненциальной задержкой, ограниченной MaxDelay.
func NewConflictRetrier(cfg RetryConfig) *retrier.Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	backoff := make([]time.Duration, cfg.MaxAttempts-1)
	delay := cfg.InitialDelay
	for i := range backoff {
		backoff[i] = delay
		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return retrier.New(backoff, versionConflictClassifier{})
}
