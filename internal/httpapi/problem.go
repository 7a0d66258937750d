// Package httpapi содержит HTTP-слой сервисов заказов и платежей на gin.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

// ContentTypeProblemJSON — media type ответов RFC 7807.
const ContentTypeProblemJSON = "application/problem+json"

// ProblemDetail — тело ошибки RFC 7807.
type ProblemDetail struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (p ProblemDetail) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

// WithDetail возвращает копию с detail.
func (p ProblemDetail) WithDetail(detail string) ProblemDetail {
	p.Detail = detail
	return p
}

// WithExtension возвращает копию с дополнительным полем.
func (p ProblemDetail) WithExtension(key string, value any) ProblemDetail {
	ext := make(map[string]any, len(p.Extensions)+1)
	for k, v := range p.Extensions {
		ext[k] = v
	}
	ext[key] = value
	p.Extensions = ext
	return p
}

const (
	TypeValidation   = "/problems/validation-error"
	TypeNotFound     = "/problems/not-found"
	TypeConflict     = "/problems/conflict"
	TypeUnauthorized = "/problems/unauthorized"
	TypeForbidden    = "/problems/forbidden"
	TypePayment      = "/problems/payment-declined"
	TypeUpstream     = "/problems/upstream-unavailable"
	TypeBadGateway   = "/problems/bad-gateway"
	TypeRateLimited  = "/problems/rate-limited"
	TypeInternal     = "/problems/internal-error"
)

var (
	ProblemValidation   = ProblemDetail{Type: TypeValidation, Title: "Validation Error", Status: http.StatusBadRequest}
	ProblemNotFound     = ProblemDetail{Type: TypeNotFound, Title: "Resource Not Found", Status: http.StatusNotFound}
	ProblemConflict     = ProblemDetail{Type: TypeConflict, Title: "Conflict", Status: http.StatusConflict}
	ProblemUnauthorized = ProblemDetail{Type: TypeUnauthorized, Title: "Unauthorized", Status: http.StatusUnauthorized}
	ProblemForbidden    = ProblemDetail{Type: TypeForbidden, Title: "Forbidden", Status: http.StatusForbidden}
	ProblemDeclined     = ProblemDetail{Type: TypePayment, Title: "Payment Declined", Status: http.StatusPaymentRequired}
	ProblemUnavailable  = ProblemDetail{Type: TypeUpstream, Title: "Service Unavailable", Status: http.StatusServiceUnavailable}
	ProblemBadGateway   = ProblemDetail{Type: TypeBadGateway, Title: "Bad Gateway", Status: http.StatusBadGateway}
	ProblemRateLimited  = ProblemDetail{Type: TypeRateLimited, Title: "Too Many Requests", Status: http.StatusTooManyRequests}
	ProblemInternal     = ProblemDetail{Type: TypeInternal, Title: "Internal Server Error", Status: http.StatusInternalServerError}
)

// proxyUpstream отдаёт статус и тело соседнего сервиса без изменений.
func proxyUpstream(c *gin.Context, upstream *domain.UpstreamStatusError) {
	if len(upstream.Body) == 0 {
		c.AbortWithStatus(upstream.StatusCode)
		return
	}
	c.Abort()
	c.Data(upstream.StatusCode, "application/json; charset=utf-8", upstream.Body)
}

// ErrorMapper переводит ошибку в ProblemDetail, если узнаёт её.
type ErrorMapper func(err error) (ProblemDetail, bool)

// Responder пишет problem-ответы и логирует 5xx.
type Responder struct {
	mappers []ErrorMapper
	logger  *log.Entry
}

// NewResponder создаёт responder; mappers проверяются раньше доменного маппинга.
func NewResponder(logger *log.Entry, mappers ...ErrorMapper) *Responder {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	return &Responder{mappers: append(mappers, MapDomainError), logger: logger}
}

// Respond пишет problem и прерывает цепочку обработчиков.
func (r *Responder) Respond(c *gin.Context, problem ProblemDetail) {
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.AbortWithStatusJSON(problem.Status, problem)
}

// RespondError переводит ошибку в ответ. Ответ соседнего сервиса с не-2xx статусом
// отдаётся клиенту как есть.
func (r *Responder) RespondError(c *gin.Context, err error) {
	var upstream *domain.UpstreamStatusError
	if errors.As(err, &upstream) && upstream.StatusCode < http.StatusInternalServerError {
		proxyUpstream(c, upstream)
		return
	}

	var problem ProblemDetail
	if !errors.As(err, &problem) {
		problem = ProblemInternal.WithDetail("internal error")
		for _, mapper := range r.mappers {
			if mapped, ok := mapper(err); ok {
				problem = mapped
				break
			}
		}
	}
	if problem.Status >= http.StatusInternalServerError {
		r.logger.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": problem.Status,
		}).Error("request failed")
	}
	r.Respond(c, problem)
}

// BadRequest — 400 с текстом ошибки разбора запроса.
func (r *Responder) BadRequest(c *gin.Context, detail string) {
	r.Respond(c, ProblemValidation.WithDetail(detail))
}

// MapDomainError — таблица доменных ошибок в HTTP-статусы.
func MapDomainError(err error) (ProblemDetail, bool) {
	detail := err.Error()
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrRefundExceedsOriginal),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return ProblemValidation.WithDetail(detail), true

	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return ProblemNotFound.WithDetail(detail), true

	case errors.Is(err, domain.ErrPaymentAlreadyExists):
		problem := ProblemConflict.WithDetail(domain.ErrPaymentAlreadyExists.Error())
		if existing, ok := domain.ExistingPayment(err); ok {
			problem = problem.WithExtension("payment", wire.FromPayment(existing))
		}
		return problem, true

	case errors.Is(err, domain.ErrOrderAlreadyPaid),
		errors.Is(err, domain.ErrPaymentNotRefundable),
		errors.Is(err, domain.ErrInvalidTransition),
		domain.IsIdempotencyConflict(err):
		return ProblemConflict.WithDetail(detail), true

	case errors.Is(err, domain.ErrAccessDenied):
		return ProblemForbidden.WithDetail("Access denied"), true

	case errors.Is(err, domain.ErrUnauthenticated):
		return ProblemUnauthorized.WithDetail(detail), true

	case errors.Is(err, domain.ErrAuthUnavailable):
		return ProblemUnavailable.WithDetail("Authentication service unavailable"), true

	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return ProblemUnavailable.WithDetail(detail), true

	case errors.Is(err, domain.ErrPaymentDeclined):
		return ProblemDeclined.WithDetail(detail), true

	case errors.Is(err, domain.ErrRefundFailed):
		problem := ProblemBadGateway.WithDetail(domain.ErrRefundFailed.Error())
		var refundErr *domain.RefundFailedError
		if errors.As(err, &refundErr) {
			problem = problem.WithExtension("reason", refundErr.Reason)
		}
		return problem, true
	}
	return ProblemDetail{}, false
}
