package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
)

// CommonConfig — настройки, общие для обоих сервисов.
type CommonConfig struct {
	LogLevel string

	// При пустом PostgresDSN хранилища живут в памяти.
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers []string

	RedisAddr    string
	AuthCacheTTL time.Duration

	// JWTSecret включает локальную проверку токенов вместо auth-service.
	JWTSecret      string
	AuthServiceURL string
	InternalToken  string

	HTTPClientTimeout time.Duration
	RateLimitRPS      float64
	RateLimitBurst    int

	OTLPEndpoint    string
	TracingDisabled bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxAge       time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// OrderConfig — настройки order-service.
type OrderConfig struct {
	CommonConfig

	HTTPAddr     string
	InternalAddr string
	MetricsAddr  string

	ProductServiceURL string
	// PaymentServiceURL указывает на внутренний listener payment-service.
	PaymentServiceURL string

	PaymentEventsConsumer bool
	ConsumerGroup         string
}

// PaymentConfig — настройки payment-service.
type PaymentConfig struct {
	CommonConfig

	HTTPAddr     string
	InternalAddr string
	MetricsAddr  string

	// OrderServiceURL указывает на внутренний listener order-service.
	OrderServiceURL string
	CallbackMode    string
	CallbackTimeout time.Duration

	SimulatedFailureRate       float64
	SimulatedRefundFailureRate float64
	SimulatedMinDelay          time.Duration
	SimulatedMaxDelay          time.Duration
}

// DefaultCommonConfig возвращает значения для локальной разработки.
func DefaultCommonConfig() CommonConfig {
	return CommonConfig{
		LogLevel:                    "info",
		PostgresAutoMigrate:         true,
		AuthCacheTTL:                time.Minute,
		AuthServiceURL:              "http://localhost:3001",
		HTTPClientTimeout:           5 * time.Second,
		RateLimitRPS:                50,
		RateLimitBurst:              100,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           5,
		OutboxRetryDelay:            200 * time.Millisecond,
		OutboxMaxAge:                5 * time.Minute,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ShutdownTimeout:             10 * time.Second,
	}
}

func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		CommonConfig:      DefaultCommonConfig(),
		HTTPAddr:          ":3003",
		InternalAddr:      ":3103",
		MetricsAddr:       ":9093",
		ProductServiceURL: "http://localhost:3002",
		PaymentServiceURL: "http://localhost:3104",
		ConsumerGroup:     "order-service",
	}
}

func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		CommonConfig:               DefaultCommonConfig(),
		HTTPAddr:                   ":3004",
		InternalAddr:               ":3104",
		MetricsAddr:                ":9094",
		OrderServiceURL:            "http://localhost:3103",
		CallbackMode:               saga.CallbackModeDirect,
		CallbackTimeout:            5 * time.Second,
		SimulatedFailureRate:       0.1,
		SimulatedRefundFailureRate: 0.05,
		SimulatedMinDelay:          100 * time.Millisecond,
		SimulatedMaxDelay:          500 * time.Millisecond,
	}
}

// LoadOrderConfig читает настройки order-service из окружения поверх значений по умолчанию.
func LoadOrderConfig() (OrderConfig, error) {
	cfg := DefaultOrderConfig()
	p := envParser{}

	p.common(&cfg.CommonConfig)
	cfg.HTTPAddr = envDefault("ORDER_HTTP_ADDR", cfg.HTTPAddr)
	cfg.InternalAddr = envDefault("ORDER_INTERNAL_ADDR", cfg.InternalAddr)
	cfg.MetricsAddr = envDefault("ORDER_METRICS_ADDR", cfg.MetricsAddr)
	cfg.ProductServiceURL = envDefault("PRODUCT_SERVICE_URL", cfg.ProductServiceURL)
	cfg.PaymentServiceURL = envDefault("PAYMENT_SERVICE_URL", cfg.PaymentServiceURL)
	cfg.PaymentEventsConsumer = isTruthy(os.Getenv("PAYMENT_EVENTS_CONSUMER"))
	cfg.ConsumerGroup = envDefault("PAYMENT_EVENTS_CONSUMER_GROUP", cfg.ConsumerGroup)

	if err := p.err(); err != nil {
		return OrderConfig{}, err
	}
	if cfg.PaymentEventsConsumer && len(cfg.KafkaBrokers) == 0 {
		return OrderConfig{}, errors.New("PAYMENT_EVENTS_CONSUMER requires KAFKA_BROKERS")
	}
	return cfg, nil
}

// LoadPaymentConfig читает настройки payment-service из окружения поверх значений по умолчанию.
func LoadPaymentConfig() (PaymentConfig, error) {
	cfg := DefaultPaymentConfig()
	p := envParser{}

	p.common(&cfg.CommonConfig)
	cfg.HTTPAddr = envDefault("PAYMENT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.InternalAddr = envDefault("PAYMENT_INTERNAL_ADDR", cfg.InternalAddr)
	cfg.MetricsAddr = envDefault("PAYMENT_METRICS_ADDR", cfg.MetricsAddr)
	cfg.OrderServiceURL = envDefault("ORDER_SERVICE_URL", cfg.OrderServiceURL)
	cfg.CallbackMode = strings.ToLower(envDefault("CALLBACK_MODE", cfg.CallbackMode))
	cfg.CallbackTimeout = p.duration("CALLBACK_TIMEOUT", cfg.CallbackTimeout)
	cfg.SimulatedFailureRate = p.rate("SIMULATED_FAILURE_RATE", cfg.SimulatedFailureRate)
	cfg.SimulatedRefundFailureRate = p.rate("SIMULATED_REFUND_FAILURE_RATE", cfg.SimulatedRefundFailureRate)
	cfg.SimulatedMinDelay = p.duration("SIMULATED_MIN_DELAY", cfg.SimulatedMinDelay)
	cfg.SimulatedMaxDelay = p.duration("SIMULATED_MAX_DELAY", cfg.SimulatedMaxDelay)

	if err := p.err(); err != nil {
		return PaymentConfig{}, err
	}
	switch cfg.CallbackMode {
	case saga.CallbackModeDirect, saga.CallbackModeOutbox:
	default:
		return PaymentConfig{}, fmt.Errorf("CALLBACK_MODE must be %q or %q, got %q", saga.CallbackModeDirect, saga.CallbackModeOutbox, cfg.CallbackMode)
	}
	if cfg.SimulatedMaxDelay < cfg.SimulatedMinDelay {
		return PaymentConfig{}, errors.New("SIMULATED_MAX_DELAY must not be less than SIMULATED_MIN_DELAY")
	}
	return cfg, nil
}

// envParser копит ошибки разбора, чтобы сообщить обо всех сразу.
type envParser struct {
	errs []error
}

func (p *envParser) common(cfg *CommonConfig) {
	cfg.LogLevel = envDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.PostgresAutoMigrate = p.bool("POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.AuthCacheTTL = p.duration("AUTH_CACHE_TTL", cfg.AuthCacheTTL)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.AuthServiceURL = envDefault("AUTH_SERVICE_URL", cfg.AuthServiceURL)
	cfg.InternalToken = os.Getenv("INTERNAL_SERVICE_TOKEN")
	cfg.HTTPClientTimeout = p.duration("HTTP_CLIENT_TIMEOUT", cfg.HTTPClientTimeout)
	cfg.RateLimitRPS = p.float("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = p.int("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.TracingDisabled = p.bool("TRACING_DISABLED", cfg.TracingDisabled)
	cfg.OutboxPollInterval = p.duration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = p.int("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = p.int("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = p.duration("OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)
	cfg.IdempotencyTTL = p.duration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL)
	cfg.IdempotencyCleanupInterval = p.duration("IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = p.int("IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// голое число трактуется как миллисекунды
		ms, intErr := strconv.Atoi(raw)
		if intErr != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
			return fallback
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: must not be negative", key))
		return fallback
	}
	return d
}

func (p *envParser) float(key string, fallback float64) float64 {
	raw, ok := lookup(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, raw))
		return fallback
	}
	return v
}

func (p *envParser) rate(key string, fallback float64) float64 {
	v := p.float(key, fallback)
	if v < 0 || v > 1 {
		p.errs = append(p.errs, fmt.Errorf("%s: must be within [0, 1], got %v", key, v))
		return fallback
	}
	return v
}

func (p *envParser) int(key string, fallback int) int {
	raw, ok := lookup(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return v
}

func (p *envParser) bool(key string, fallback bool) bool {
	raw, ok := lookup(key)
	if !ok {
		return fallback
	}
	return isTruthy(raw)
}

func (p *envParser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(p.errs...))
}

// lookup возвращает непустое значение переменной.
func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func envDefault(key, fallback string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return fallback
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
