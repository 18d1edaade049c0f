package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event types.
const (
	TypeAgent  = "agent"
	TypeConfig = "config"
)

// Agent and config actions.
const (
	ActionAgentStarted   = "agent.started"
	ActionAgentStopped   = "agent.stopped"
	ActionAgentReaped    = "agent.reaped"
	ActionConfigReloaded = "config.reloaded"
)

// Statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Event is one line of the audit log.
type Event struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // channel id for agent events
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// Logger writes audit events as JSON lines. A nil *Logger drops every event.
type Logger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
	now    func() time.Time
}

// Open appends to the audit file at path, creating it and its directory.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	a := New(file)
	a.file = file
	return a, nil
}

// New writes audit events to w.
func New(w io.Writer) *Logger {
	return &Logger{
		logger: zerolog.New(w),
		now:    time.Now,
	}
}

// Record writes event. When ctx carries a span the event is also attached
// to it and the trace id is recorded.
func (a *Logger) Record(ctx context.Context, event Event) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("event_type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Actor != "" {
		entry.Str("actor", event.Actor)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Send()
}

// Close closes the audit file, if any.
func (a *Logger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// Agent records an agent lifecycle event for channelID. A non-nil err marks
// the event as failed.
func (a *Logger) Agent(ctx context.Context, action, channelID string, err error, metadata map[string]interface{}) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		if metadata == nil {
			metadata = make(map[string]interface{}, 1)
		}
		metadata["error"] = err.Error()
	}
	a.Record(ctx, Event{
		Type:     TypeAgent,
		Actor:    channelID,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

// Config records a configuration change.
func (a *Logger) Config(ctx context.Context, action string, metadata map[string]interface{}) {
	a.Record(ctx, Event{
		Type:     TypeConfig,
		Action:   action,
		Status:   StatusSuccess,
		Metadata: metadata,
	})
}
