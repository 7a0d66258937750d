package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
)

func TestDefaultConfigs(t *testing.T) {
	order := DefaultOrderConfig()
	assert.Equal(t, ":3003", order.HTTPAddr)
	assert.Equal(t, ":3103", order.InternalAddr)
	assert.Equal(t, ":9093", order.MetricsAddr)
	assert.Equal(t, 5*time.Second, order.HTTPClientTimeout)
	assert.Equal(t, 50.0, order.RateLimitRPS)
	assert.Equal(t, 100, order.RateLimitBurst)
	assert.True(t, order.PostgresAutoMigrate)

	payment := DefaultPaymentConfig()
	assert.Equal(t, ":3004", payment.HTTPAddr)
	assert.Equal(t, ":3104", payment.InternalAddr)
	assert.Equal(t, ":9094", payment.MetricsAddr)
	assert.Equal(t, saga.CallbackModeDirect, payment.CallbackMode)
	assert.LessOrEqual(t, payment.SimulatedMinDelay, payment.SimulatedMaxDelay)
}

func TestLoadOrderConfig_FromEnv(t *testing.T) {
	t.Setenv("ORDER_HTTP_ADDR", "127.0.0.1:8080")
	t.Setenv("PRODUCT_SERVICE_URL", "http://catalog:3002")
	t.Setenv("PAYMENT_SERVICE_URL", "http://payments:3104")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("PAYMENT_EVENTS_CONSUMER", "yes")
	t.Setenv("HTTP_CLIENT_TIMEOUT", "1500")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("TRACING_DISABLED", "true")
	t.Setenv("POSTGRES_DSN", "postgres://fulfillment@localhost/fulfillment")

	cfg, err := LoadOrderConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, ":3103", cfg.InternalAddr)
	assert.Equal(t, "http://catalog:3002", cfg.ProductServiceURL)
	assert.Equal(t, "http://payments:3104", cfg.PaymentServiceURL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.PaymentEventsConsumer)
	assert.Equal(t, 1500*time.Millisecond, cfg.HTTPClientTimeout)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.True(t, cfg.TracingDisabled)
	assert.Equal(t, "postgres://fulfillment@localhost/fulfillment", cfg.PostgresDSN)
}

func TestLoadOrderConfig_ConsumerNeedsBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("PAYMENT_EVENTS_CONSUMER", "1")

	_, err := LoadOrderConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoadPaymentConfig_FromEnv(t *testing.T) {
	t.Setenv("CALLBACK_MODE", "OUTBOX")
	t.Setenv("SIMULATED_FAILURE_RATE", "0")
	t.Setenv("SIMULATED_MIN_DELAY", "0s")
	t.Setenv("SIMULATED_MAX_DELAY", "10ms")
	t.Setenv("ORDER_SERVICE_URL", "http://orders:3103")
	t.Setenv("INTERNAL_SERVICE_TOKEN", "s3cret")

	cfg, err := LoadPaymentConfig()
	require.NoError(t, err)
	assert.Equal(t, saga.CallbackModeOutbox, cfg.CallbackMode)
	assert.Zero(t, cfg.SimulatedFailureRate)
	assert.Zero(t, cfg.SimulatedMinDelay)
	assert.Equal(t, 10*time.Millisecond, cfg.SimulatedMaxDelay)
	assert.Equal(t, "http://orders:3103", cfg.OrderServiceURL)
	assert.Equal(t, "s3cret", cfg.InternalToken)
}

func TestLoadPaymentConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown callback mode": {"CALLBACK_MODE": "kafka"},
		"rate above one":        {"SIMULATED_FAILURE_RATE": "1.5"},
		"bad duration":          {"SIMULATED_MIN_DELAY": "soon"},
		"inverted delays":       {"SIMULATED_MIN_DELAY": "2s", "SIMULATED_MAX_DELAY": "1s"},
		"bad burst":             {"RATE_LIMIT_BURST": "many"},
		"negative timeout":      {"HTTP_CLIENT_TIMEOUT": "-1s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadPaymentConfig()
			require.Error(t, err)
		})
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "on", "y"} {
		assert.True(t, isTruthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "no", "off", "maybe"} {
		assert.False(t, isTruthy(v), v)
	}
}

func TestEnvDefault(t *testing.T) {
	t.Setenv("FULFILLMENT_TEST_VALUE", "  ")
	assert.Equal(t, "fallback", envDefault("FULFILLMENT_TEST_VALUE", "fallback"))

	t.Setenv("FULFILLMENT_TEST_VALUE", "set")
	assert.Equal(t, "set", envDefault("FULFILLMENT_TEST_VALUE", "fallback"))
}
