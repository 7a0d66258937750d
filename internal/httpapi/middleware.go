package httpapi

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
)

const (
	HeaderRequestID      = "X-Request-ID"
	HeaderInternalToken  = "X-Internal-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	claimsKey = "fulfillment.claims"
	maxBody   = 1 << 20
)

// RequestID проставляет X-Request-ID, если клиент его не прислал.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// AccessLog пишет одну запись logrus на запрос.
func AccessLog(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      c.FullPath(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(HeaderRequestID),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("request completed")
		case c.Request.URL.Path == "/health":
			entry.Debug("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

// Metrics считает запросы по шаблону маршрута.
func Metrics(m *metrics.HTTPMetrics, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.Observe(service, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// Authenticate проверяет bearer-токен и кладёт claims в контекст запроса.
func Authenticate(verifier domain.TokenVerifier, responder *Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			responder.Respond(c, ProblemUnauthorized.WithDetail("Access token required"))
			return
		}
		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			// Ответ сервиса аутентификации проксируется с любым статусом, включая 5xx.
			var upstream *domain.UpstreamStatusError
			if errors.As(err, &upstream) {
				proxyUpstream(c, upstream)
				return
			}
			responder.RespondError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAdmin пропускает только администраторов.
func RequireAdmin(responder *Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !claimsFrom(c).IsAdmin() {
			responder.Respond(c, ProblemForbidden.WithDetail("Insufficient permissions"))
			return
		}
		c.Next()
	}
}

// InternalToken защищает внутренние listener-ы общим секретом. Пустой token отключает проверку.
func InternalToken(token string, responder *Responder) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(HeaderInternalToken))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			responder.Respond(c, ProblemUnauthorized.WithDetail("invalid internal token"))
			return
		}
		c.Next()
	}
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency реализует заголовок Idempotency-Key в области пользователя и маршрута: повтор с тем же
// телом получает сохранённый ответ, с другим телом или во время обработки первого получает 409.
// Без заголовка запрос проходит как есть.
func Idempotency(guard *idempotency.Guard, responder *Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if raw == "" || guard == nil {
			c.Next()
			return
		}
		subject := claimsFrom(c).UserID
		key := domain.NewIdempotencyKey(subject, c.Request.Method, c.FullPath(), raw)
		if err := key.Validate(); err != nil {
			responder.RespondError(c, err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			responder.BadRequest(c, "unreadable request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		hash := idempotency.HashRequest(c.Request.Method, c.Request.URL.Path, subject, body)
		replay, err := guard.Begin(c.Request.Context(), key, hash)
		if err != nil {
			responder.RespondError(c, err)
			return
		}
		if replay != nil {
			c.Header(HeaderReplayed, "true")
			c.Abort()
			c.Data(replay.HTTPStatus, "application/json; charset=utf-8", replay.Body)
			return
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		guard.Complete(context.WithoutCancel(c.Request.Context()), key, writer.Status(), writer.body.Bytes())
	}
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func claimsFrom(c *gin.Context) domain.Claims {
	if value, ok := c.Get(claimsKey); ok {
		if claims, ok := value.(domain.Claims); ok {
			return claims
		}
	}
	return domain.Claims{}
}

// ClaimsFrom возвращает claims, проставленные Authenticate.
func ClaimsFrom(c *gin.Context) (domain.Claims, error) {
	claims := claimsFrom(c)
	if claims.UserID == "" {
		return domain.Claims{}, errors.New("request is not authenticated")
	}
	return claims, nil
}
