package agent

import (
	"context"
	"strings"
	"time"

	"github.com/harun/scribe/internal/metrics"
	"github.com/harun/scribe/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle position of one reply.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingPlaceholder State = "awaiting_placeholder"
	StateStreaming           State = "streaming"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
)

// ResponderConfig tunes how replies are published.
type ResponderConfig struct {
	// MinUpdateInterval coalesces placeholder updates. Zero publishes every chunk.
	MinUpdateInterval time.Duration `json:"min_update_interval"`

	// ClearOnFailure emits a CLEARED indicator after the error message.
	ClearOnFailure bool `json:"clear_on_failure"`
}

// DefaultResponderConfig returns per-chunk updates with the indicator cleared on failure.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{ClearOnFailure: true}
}

// Result is the terminal record of one reply.
type Result struct {
	State     State
	Kind      ErrorKind
	MessageID string
	Text      string
	Chunks    int
	Updates   int
	Err       error
}

// Accepts reports whether msg should be answered.
func Accepts(msg InboundMessage) bool {
	return !msg.AgentGenerated && msg.Text != ""
}

// Responder turns one inbound message into a streamed reply.
type Responder struct {
	transport Transport
	session   *Session
	cfg       ResponderConfig
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewResponder creates a responder publishing through transport.
func NewResponder(transport Transport, session *Session, cfg ResponderConfig, logger zerolog.Logger, m *metrics.Metrics) *Responder {
	return &Responder{
		transport: transport,
		session:   session,
		cfg:       cfg,
		logger:    logger.With().Str("component", "responder").Logger(),
		metrics:   m,
		now:       time.Now,
	}
}

// Respond runs the reply state machine for msg and returns its terminal result.
// Filtered messages return StateIdle without touching the transport or session.
func (r *Responder) Respond(ctx context.Context, msg InboundMessage) Result {
	if !Accepts(msg) {
		return Result{State: StateIdle}
	}

	start := r.now()
	ctx = tracing.NewStreamContext(ctx, msg.ChannelID, msg.MessageID)
	ctx, span := tracing.StartSpan(ctx, "agent.respond",
		attribute.String("channel_id", msg.ChannelID),
		attribute.Int("input_length", len(msg.Text)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	r.session.Touch()

	res := Result{State: StateAwaitingPlaceholder}

	placeholder, err := r.transport.PublishMessage(ctx, OutboundMessage{Text: "", AgentGenerated: true})
	if err != nil {
		// Without a placeholder there is nothing to attach an error to.
		logger.Error().Err(err).Msg("Failed to publish placeholder")
		res.State = StateFailed
		res.Kind = KindUnknown
		res.Err = err
		r.finish(span, &res, start)
		return res
	}
	res.MessageID = placeholder.ID

	err = r.transport.PublishIndicator(ctx, IndicatorEvent{
		State:          IndicatorThinking,
		ConversationID: placeholder.ConversationID,
		MessageID:      placeholder.ID,
	})
	if err != nil {
		return r.fail(ctx, logger, span, res, placeholder, err, start)
	}

	res.State = StateStreaming

	var text strings.Builder
	var lastFlush time.Time
	pending := false

	for chunk, streamErr := range r.session.Model().StreamReply(ctx, msg.Text) {
		if streamErr != nil {
			res.Text = text.String()
			return r.fail(ctx, logger, span, res, placeholder, streamErr, start)
		}
		text.WriteString(chunk)
		res.Chunks++
		r.metrics.IncChunks()

		if r.cfg.MinUpdateInterval > 0 && !lastFlush.IsZero() && r.now().Sub(lastFlush) < r.cfg.MinUpdateInterval {
			pending = true
			continue
		}
		if err := r.update(ctx, placeholder.ID, text.String()); err != nil {
			res.Text = text.String()
			return r.fail(ctx, logger, span, res, placeholder, err, start)
		}
		res.Updates++
		lastFlush = r.now()
		pending = false
	}

	if pending {
		if err := r.update(ctx, placeholder.ID, text.String()); err != nil {
			res.Text = text.String()
			return r.fail(ctx, logger, span, res, placeholder, err, start)
		}
		res.Updates++
	}

	res.Text = text.String()
	res.State = StateCompleted

	err = r.transport.PublishIndicator(ctx, IndicatorEvent{
		State:          IndicatorCleared,
		ConversationID: placeholder.ConversationID,
		MessageID:      placeholder.ID,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to clear indicator")
	}

	logger.Debug().
		Int("chunks", res.Chunks).
		Int("updates", res.Updates).
		Int("length", len(res.Text)).
		Msg("Reply completed")

	r.finish(span, &res, start)
	return res
}

func (r *Responder) update(ctx context.Context, id, text string) error {
	err := r.transport.UpdateMessage(ctx, MessageUpdate{ID: id, Text: text, AgentGenerated: true})
	if err == nil {
		r.metrics.IncUpdates()
	}
	return err
}

// fail publishes exactly one error message and stops. The placeholder keeps
// whatever text it had.
func (r *Responder) fail(ctx context.Context, logger zerolog.Logger, span trace.Span, res Result, placeholder PublishedMessage, cause error, start time.Time) Result {
	res.State = StateFailed
	res.Kind = Classify(cause)
	res.Err = cause

	logger.Error().Err(cause).Str("error_kind", string(res.Kind)).Msg("Reply failed")

	if _, err := r.transport.PublishMessage(ctx, OutboundMessage{
		Text:           MessageFor(res.Kind),
		AgentGenerated: true,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to publish error message")
	}

	if r.cfg.ClearOnFailure {
		if err := r.transport.PublishIndicator(ctx, IndicatorEvent{
			State:          IndicatorCleared,
			ConversationID: placeholder.ConversationID,
			MessageID:      placeholder.ID,
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to clear indicator after error")
		}
	}

	r.finish(span, &res, start)
	return res
}

func (r *Responder) finish(span trace.Span, res *Result, start time.Time) {
	outcome := metrics.OutcomeCompleted
	if res.State == StateFailed {
		outcome = metrics.OutcomeFailed
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Kind))
	}
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.String("error_kind", string(res.Kind)),
		attribute.String("message_id", res.MessageID),
		attribute.Int("chunks", res.Chunks),
	)
	r.metrics.ObserveStream(outcome, string(res.Kind), r.now().Sub(start))
}
