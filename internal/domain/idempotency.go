package domain

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MaxIdempotencyKeyLength ограничивает значение заголовка Idempotency-Key.
const MaxIdempotencyKeyLength = 255

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён с 2xx и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что сохранён ответ с ошибкой (например, 402 при отказе шлюза).
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyKey — клиентский ключ в области вызывающего. Один и тот же Value
// у разных пользователей или на разных маршрутах описывает разные запросы.
type IdempotencyKey struct {
	// Scope — субъект и маршрут, например "user-1 POST /api/orders".
	Scope string
	Value string
}

// NewIdempotencyKey строит ключ для запроса subject на method route.
// Пустой subject означает доверенный межсервисный вызов.
func NewIdempotencyKey(subject, method, route, value string) IdempotencyKey {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "internal"
	}
	return IdempotencyKey{
		Scope: subject + " " + strings.ToUpper(method) + " " + route,
		Value: strings.TrimSpace(value),
	}
}

// Validate проверяет, что ключ задан и не превышает допустимую длину.
func (k IdempotencyKey) Validate() error {
	if k.Value == "" || strings.TrimSpace(k.Scope) == "" {
		return ErrIdempotencyKeyRequired
	}
	if len(k.Value) > MaxIdempotencyKeyLength {
		return fmt.Errorf("%w: longer than %d characters", ErrIdempotencyKeyInvalid, MaxIdempotencyKeyLength)
	}
	return nil
}

func (k IdempotencyKey) String() string {
	return k.Scope + "/" + k.Value
}

// IdempotencyRecord хранит состояние обработки запроса с Idempotency-Key.
type IdempotencyRecord struct {
	Scope        string
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord создаёт запись в статусе processing.
func NewIdempotencyRecord(key IdempotencyKey, requestHash string, ttlAt, now time.Time) IdempotencyRecord {
	return IdempotencyRecord{
		Scope:       key.Scope,
		Key:         key.Value,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ID возвращает ключ, под которым сохранена запись.
func (r IdempotencyRecord) ID() IdempotencyKey {
	return IdempotencyKey{Scope: r.Scope, Value: r.Key}
}

// Expired сообщает, что ключ свободен для повторного использования.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Completed сообщает, что ответ сохранён и его можно отдать повтору.
func (r IdempotencyRecord) Completed() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// ReplayStatus возвращает HTTP-статус сохранённого ответа; 0 трактуется как 200.
func (r IdempotencyRecord) ReplayStatus() int {
	if r.HTTPStatus == 0 {
		return http.StatusOK
	}
	return r.HTTPStatus
}

// IdempotencyStatusForHTTP сводит код ответа к статусу записи.
func IdempotencyStatusForHTTP(code int) IdempotencyStatus {
	if code >= 200 && code < 300 {
		return IdempotencyStatusDone
	}
	return IdempotencyStatusFailed
}
