package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, raw string) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		events = append(events, event)
	}
	return events
}

func TestLogger_Agent(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		metadata   map[string]interface{}
		wantStatus string
		wantError  string
	}{
		{name: "success", wantStatus: StatusSuccess},
		{name: "failure without metadata", err: errors.New("boom"), wantStatus: StatusFailure, wantError: "boom"},
		{name: "failure keeps metadata", err: errors.New("boom"), metadata: map[string]interface{}{"reason": "shutdown"}, wantStatus: StatusFailure, wantError: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			a := New(&buf)
			a.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

			a.Agent(context.Background(), ActionAgentStarted, "general", tt.err, tt.metadata)

			events := decodeLines(t, buf.String())
			require.Len(t, events, 1)
			event := events[0]
			assert.Equal(t, TypeAgent, event["event_type"])
			assert.Equal(t, ActionAgentStarted, event["action"])
			assert.Equal(t, "general", event["actor"])
			assert.Equal(t, tt.wantStatus, event["status"])
			assert.NotContains(t, event, "trace_id")

			if tt.wantError == "" {
				assert.NotContains(t, event, "metadata")
				return
			}
			metadata := event["metadata"].(map[string]interface{})
			assert.Equal(t, tt.wantError, metadata["error"])
			if tt.metadata != nil {
				assert.Equal(t, "shutdown", metadata["reason"])
			}
		})
	}
}

func TestLogger_RecordTraceID(t *testing.T) {
	var buf bytes.Buffer
	a := New(&buf)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	a.Config(ctx, ActionConfigReloaded, map[string]interface{}{"level": "debug"})

	events := decodeLines(t, buf.String())
	require.Len(t, events, 1)
	assert.Equal(t, TypeConfig, events[0]["event_type"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", events[0]["trace_id"])
	assert.NotContains(t, events[0], "actor")
}

func TestLogger_NilIsNoop(t *testing.T) {
	var a *Logger
	assert.NotPanics(t, func() {
		a.Agent(context.Background(), ActionAgentStopped, "general", nil, nil)
		a.Config(context.Background(), ActionConfigReloaded, nil)
	})
	assert.NoError(t, a.Close())
}

func TestOpen_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")

	for _, channelID := range []string{"general", "random"} {
		a, err := Open(path)
		require.NoError(t, err)
		a.Agent(context.Background(), ActionAgentReaped, channelID, nil, nil)
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	events := decodeLines(t, string(data))
	require.Len(t, events, 2)
	assert.Equal(t, "general", events[0]["actor"])
	assert.Equal(t, "random", events[1]["actor"])
}
