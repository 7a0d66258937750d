package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), Config{ServiceName: "order-service", Disabled: true}, nil)
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
}

func TestInit_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	provider, shutdown, err := Init(context.Background(), Config{
		ServiceName:  "payment-service",
		StdoutWriter: &buf,
	}, nil)
	require.NoError(t, err)

	_, span := provider.Tracer("test").Start(context.Background(), "initiate")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"initiate"`)
	assert.Contains(t, buf.String(), "payment-service")
}
