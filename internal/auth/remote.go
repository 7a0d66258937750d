package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// RemoteVerifier спрашивает сервис аутентификации: POST /api/auth/verify.
// Не-2xx ответы проксируются вызывающему как *domain.UpstreamStatusError.
type RemoteVerifier struct {
	url     string
	http    *http.Client
	breaker *breaker.Breaker
	logger  *log.Entry
}

// NewRemoteVerifier создаёт верификатор поверх AUTH_SERVICE_URL.
func NewRemoteVerifier(baseURL string, timeout time.Duration, logger *log.Entry) (*RemoteVerifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("auth service URL is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.WithField("component", "auth-client")
	}
	return &RemoteVerifier{
		url:     baseURL + "/api/auth/verify",
		http:    &http.Client{Timeout: timeout},
		breaker: breaker.New(5, 1, 10*time.Second),
		logger:  logger,
	}, nil
}

type verifyResponse struct {
	Valid bool `json:"valid"`
	User  struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
		Role    string `json:"role"`
	} `json:"user"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (domain.Claims, error) {
	if token == "" {
		return domain.Claims{}, domain.ErrUnauthenticated
	}

	var (
		status int
		body   []byte
	)
	err := v.breaker.Run(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		res, err := v.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		status = res.StatusCode
		body, err = io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return err
		}
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("auth service responded with %d", status)
		}
		return nil
	})
	if err != nil && status < http.StatusInternalServerError {
		v.logger.WithError(err).Warn("auth service unreachable")
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrAuthUnavailable, err)
	}
	if status < 200 || status >= 300 {
		return domain.Claims{}, &domain.UpstreamStatusError{Service: "auth-service", StatusCode: status, Body: body}
	}

	var payload verifyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Claims{}, fmt.Errorf("%w: decode verify response: %v", domain.ErrAuthUnavailable, err)
	}
	userID := payload.User.ID
	if userID == "" {
		userID = payload.User.MongoID
	}
	if !payload.Valid || userID == "" {
		return domain.Claims{}, ErrInvalidToken
	}
	return domain.Claims{UserID: userID, Role: normalizeRole(payload.User.Role), Token: token}, nil
}

var _ domain.TokenVerifier = (*RemoteVerifier)(nil)
