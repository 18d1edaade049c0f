package tracing

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Fields are the correlation ids carried through a request and the reply
// streams it starts.
type Fields struct {
	TraceID   string
	RunID     string
	ChannelID string
	MessageID string
}

type fieldsKey struct{}

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// NewRunID returns a fresh run id. A run is one reply stream.
func NewRunID() string {
	return uuid.NewString()
}

// FromContext returns the fields stored in ctx. A missing trace id is
// taken from the active span, if any.
func FromContext(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	if f.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			f.TraceID = sc.TraceID().String()
		}
	}
	return f
}

// NewContext stores f in ctx, keeping any field of ctx that f leaves empty.
func NewContext(ctx context.Context, f Fields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	cur, _ := ctx.Value(fieldsKey{}).(Fields)
	if f.TraceID != "" {
		cur.TraceID = f.TraceID
	}
	if f.RunID != "" {
		cur.RunID = f.RunID
	}
	if f.ChannelID != "" {
		cur.ChannelID = f.ChannelID
	}
	if f.MessageID != "" {
		cur.MessageID = f.MessageID
	}
	return context.WithValue(ctx, fieldsKey{}, cur)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return NewContext(ctx, Fields{TraceID: id})
}

func WithRunID(ctx context.Context, id string) context.Context {
	return NewContext(ctx, Fields{RunID: id})
}

func WithChannelID(ctx context.Context, id string) context.Context {
	return NewContext(ctx, Fields{ChannelID: id})
}

func WithMessageID(ctx context.Context, id string) context.Context {
	return NewContext(ctx, Fields{MessageID: id})
}

func GetTraceID(ctx context.Context) string   { return FromContext(ctx).TraceID }
func GetRunID(ctx context.Context) string     { return FromContext(ctx).RunID }
func GetChannelID(ctx context.Context) string { return FromContext(ctx).ChannelID }
func GetMessageID(ctx context.Context) string { return FromContext(ctx).MessageID }

// NewRequestContext starts a new trace for an inbound request.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewStreamContext gives one reply stream on channelID its own run id. The
// trace id of ctx is kept so the stream stays inside its ingress trace.
func NewStreamContext(ctx context.Context, channelID, messageID string) context.Context {
	f := Fields{RunID: NewRunID(), ChannelID: channelID, MessageID: messageID}
	if GetTraceID(ctx) == "" {
		f.TraceID = NewTraceID()
	}
	return NewContext(ctx, f)
}

// Detach keeps the values of ctx but drops its cancellation, so a reply
// stream reaches its own terminal state after the request that started it
// is gone.
func Detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
