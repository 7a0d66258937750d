// Package client содержит HTTP-клиенты соседних сервисов: каталог, платежи и callback заказа.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/eapache/go-resiliency/retrier"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	// HeaderInternalToken — заголовок межсервисной аутентификации внутренних listener-ов.
	HeaderInternalToken = "X-Internal-Token"

	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

// Options — общие настройки клиентов.
type Options struct {
	HTTPClient       *http.Client
	Timeout          time.Duration
	InternalToken    string
	BreakerErrors    int
	BreakerSuccesses int
	BreakerTimeout   time.Duration
	ReadRetries      int
	ReadRetryDelay   time.Duration
	Logger           *log.Entry
}

// Option настраивает клиент.
type Option func(*Options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) { o.Timeout = timeout }
}

// WithInternalToken добавляет X-Internal-Token ко всем запросам.
func WithInternalToken(token string) Option {
	return func(o *Options) { o.InternalToken = strings.TrimSpace(token) }
}

// WithBreaker задаёт порог ошибок, порог успехов и время открытого состояния.
func WithBreaker(errorThreshold, successThreshold int, openFor time.Duration) Option {
	return func(o *Options) {
		o.BreakerErrors = errorThreshold
		o.BreakerSuccesses = successThreshold
		o.BreakerTimeout = openFor
	}
}

// WithReadRetries задаёт число повторов идемпотентных чтений.
func WithReadRetries(retries int, initialDelay time.Duration) Option {
	return func(o *Options) {
		o.ReadRetries = retries
		o.ReadRetryDelay = initialDelay
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

func defaultOptions() Options {
	return Options{
		Timeout:          defaultTimeout,
		BreakerErrors:    5,
		BreakerSuccesses: 1,
		BreakerTimeout:   10 * time.Second,
		ReadRetries:      2,
		ReadRetryDelay:   50 * time.Millisecond,
	}
}

// errRetryable помечает ошибки, после которых идемпотентное чтение можно повторить.
var errRetryable = errors.New("retryable upstream failure")

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }
func (e retryableError) Is(target error) bool {
	return target == errRetryable
}

// retryableClassifier повторяет только сбои транспорта и 5xx.
type retryableClassifier struct{}

func (retryableClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case errors.Is(err, errRetryable):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}

// response — прочитанный ответ соседнего сервиса.
type response struct {
	status int
	body   []byte
}

// base — общий транспорт: таймаут, circuit breaker, trace-заголовки.
type base struct {
	service string
	baseURL string
	http    *http.Client
	opts    Options
	breaker *breaker.Breaker
	reads   *retrier.Retrier
	logger  *log.Entry
}

func newBase(service, baseURL string, options []Option) (*base, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", service)
	}
	opts := defaultOptions()
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", service+"-client")
	}
	var reads *retrier.Retrier
	if opts.ReadRetries > 0 {
		reads = retrier.New(
			retrier.ExponentialBackoff(opts.ReadRetries, opts.ReadRetryDelay),
			retryableClassifier{},
		)
	}
	return &base{
		service: service,
		baseURL: baseURL,
		http:    httpClient,
		opts:    opts,
		breaker: breaker.New(opts.BreakerErrors, opts.BreakerSuccesses, opts.BreakerTimeout),
		reads:   reads,
		logger:  logger,
	}, nil
}

// call выполняет запрос через circuit breaker. Сбой транспорта и 5xx считаются отказом соседа,
// остальные статусы возвращаются вызывающему для разбора.
func (b *base) call(ctx context.Context, method, path string, body any, header http.Header) (response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return response{}, fmt.Errorf("encode %s request: %w", b.service, err)
		}
	}

	var resp response
	err := b.breaker.Run(func() error {
		ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
		if err != nil {
			return err
		}
		for key, values := range header {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		if b.opts.InternalToken != "" {
			req.Header.Set(HeaderInternalToken, b.opts.InternalToken)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		res, err := b.http.Do(req)
		if err != nil {
			return retryableError{fmt.Errorf("%w: %s %s: %v", domain.ErrUpstreamUnavailable, method, path, err)}
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return retryableError{fmt.Errorf("%w: read %s response: %v", domain.ErrUpstreamUnavailable, b.service, err)}
		}
		resp = response{status: res.StatusCode, body: data}
		if res.StatusCode >= http.StatusInternalServerError {
			return retryableError{fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable,
				&domain.UpstreamStatusError{Service: b.service, StatusCode: res.StatusCode, Body: data})}
		}
		return nil
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		return response{}, fmt.Errorf("%w: %s circuit open", domain.ErrUpstreamUnavailable, b.service)
	}
	if err != nil {
		return response{}, err
	}
	return resp, nil
}

// read выполняет идемпотентный GET с повторами при сбоях транспорта и 5xx.
func (b *base) read(ctx context.Context, path string, header http.Header) (response, error) {
	if b.reads == nil {
		return b.call(ctx, http.MethodGet, path, nil, header)
	}
	var resp response
	err := b.reads.RunCtx(ctx, func(ctx context.Context) error {
		var err error
		resp, err = b.call(ctx, http.MethodGet, path, nil, header)
		return err
	})
	return resp, err
}

func bearer(token string) http.Header {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

func decode(resp response, dst any) error {
	if err := json.Unmarshal(resp.body, dst); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.status, err)
	}
	return nil
}

// problemMessage достаёт detail/title из problem+json или message из обычного тела.
func problemMessage(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return strings.TrimSpace(string(body))
	}
	switch {
	case payload.Detail != "":
		return payload.Detail
	case payload.Message != "":
		return payload.Message
	default:
		return payload.Title
	}
}
