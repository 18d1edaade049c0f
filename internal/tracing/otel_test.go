package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitStdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "scribe-test",
		SampleRatio: 1,
		Exporter:    ExporterStdout,
		Writer:      &buf,
	})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "scribe.test")
	assert.NotEmpty(t, GetTraceID(ctx))
	End(span, nil)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "scribe.test")
	assert.Contains(t, buf.String(), "scribe-test")
}

func TestInitErrors(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "unknown exporter", cfg: Config{Exporter: "zipkin"}, wantErr: "unknown trace exporter"},
		{name: "otlp without endpoint", cfg: Config{Exporter: ExporterOTLP}, wantErr: "requires an endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitNoneExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Init(context.Background(), Config{SampleRatio: 1})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "scribe.none")
	assert.NotEmpty(t, GetTraceID(ctx), "spans are sampled even when not exported")
	End(span, nil)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEnd(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, okSpan := tp.Tracer("test").Start(context.Background(), "ok")
	End(okSpan, nil)
	_, failed := tp.Tracer("test").Start(context.Background(), "failed")
	End(failed, errors.New("boom"))
	End(nil, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}
