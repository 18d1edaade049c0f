package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/scribe/internal/metrics"
	"github.com/harun/scribe/internal/tracing"
	"github.com/harun/scribe/pkg/prompt"
	"github.com/rs/zerolog"
)

// Options configures an Agent.
type Options struct {
	ChannelID string
	APIKey    string
	Model     string

	Transport Transport
	Client    ModelClient

	// SystemPrompt seeds the session. Empty builds the writing-assistant prompt for Now().
	SystemPrompt string
	Generation   GenerationConfig
	// Responder nil selects DefaultResponderConfig.
	Responder *ResponderConfig

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Agent answers every accepted message on one channel.
type Agent struct {
	channelID string
	transport Transport
	session   *Session
	responder *Responder
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	unsubscribe func()

	// mu orders inflight.Add against Dispose so Wait never races an Add.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup

	disposeOnce sync.Once
	disposeErr  error
	disposed    chan struct{}
	// released is closed once the session has been closed after Dispose.
	released chan struct{}
}

// New creates the model session and subscribes to the channel. A missing
// credential fails before any network call; provider rejections are mapped to
// ErrRateLimited or ErrAuthInvalid.
func New(ctx context.Context, opts Options) (*Agent, error) {
	if opts.APIKey == "" {
		return nil, ErrAuthMissing
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Generation == (GenerationConfig{}) {
		opts.Generation = DefaultGenerationConfig()
	}
	responderCfg := DefaultResponderConfig()
	if opts.Responder != nil {
		responderCfg = *opts.Responder
	}
	system := opts.SystemPrompt
	if system == "" {
		system = prompt.BuildSystemPrompt(opts.Now())
	}

	logger := opts.Logger.With().
		Str("component", "agent").
		Str("channel_id", opts.ChannelID).
		Str("provider", opts.Client.Provider()).
		Logger()

	model, err := opts.Client.CreateSession(ctx, SessionConfig{
		APIKey: opts.APIKey,
		Model:  opts.Model,
		History: []Turn{
			{Role: RoleUser, Text: system},
			{Role: RoleModel, Text: prompt.Acknowledgment},
		},
		Generation: opts.Generation,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create model session")
		return nil, initError(err)
	}

	session := newSession(model, opts.Now)
	a := &Agent{
		channelID: opts.ChannelID,
		transport: opts.Transport,
		session:   session,
		logger:    logger,
		metrics:   opts.Metrics,
		disposed:  make(chan struct{}),
		released:  make(chan struct{}),
	}
	a.responder = NewResponder(opts.Transport, session, responderCfg, logger, opts.Metrics)
	a.responder.now = opts.Now

	unsubscribe, err := opts.Transport.Subscribe(a.HandleInbound)
	if err != nil {
		_ = session.close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", opts.ChannelID, err)
	}
	a.unsubscribe = unsubscribe

	opts.Metrics.AgentStarted()
	logger.Info().Msg("Agent started")

	return a, nil
}

// ChannelID returns the bound channel.
func (a *Agent) ChannelID() string {
	return a.channelID
}

// Session returns the agent's session.
func (a *Agent) Session() *Session {
	return a.session
}

// HandleInbound starts a reply for msg in the background. Filtered messages
// and messages arriving after Dispose are dropped synchronously.
func (a *Agent) HandleInbound(ctx context.Context, msg InboundMessage) {
	if !Accepts(msg) {
		return
	}
	if !a.begin() {
		a.logger.Debug().Msg("Dropping message for disposed agent")
		return
	}

	streamCtx := tracing.Detach(ctx)
	go func() {
		defer a.inflight.Done()
		a.responder.Respond(streamCtx, msg)
	}()
}

// Respond runs one reply synchronously. After Dispose it returns StateIdle
// without touching the channel.
func (a *Agent) Respond(ctx context.Context, msg InboundMessage) Result {
	if !Accepts(msg) || !a.begin() {
		return Result{State: StateIdle}
	}
	defer a.inflight.Done()
	return a.responder.Respond(ctx, msg)
}

// begin registers one reply unless Dispose has started.
func (a *Agent) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.inflight.Add(1)
	return true
}

// Wait blocks until every accepted reply has finished and, once Dispose has
// been called, until the session is closed.
func (a *Agent) Wait() {
	a.inflight.Wait()
	if a.Disposed() {
		<-a.released
	}
}

// Dispose stops listening and releases the channel. Replies already accepted
// continue to their terminal state; the model session is closed after the
// last of them. Calling Dispose more than once returns the first result.
func (a *Agent) Dispose(ctx context.Context) error {
	a.disposeOnce.Do(func() {
		a.mu.Lock()
		a.closing = true
		close(a.disposed)
		a.mu.Unlock()

		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		if err := a.transport.Disconnect(ctx); err != nil {
			a.disposeErr = fmt.Errorf("disconnect: %w", err)
		}

		go func() {
			a.inflight.Wait()
			if err := a.session.close(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to close model session")
			}
			close(a.released)
		}()

		a.metrics.AgentStopped()
		a.logger.Info().Msg("Agent disposed")
	})
	return a.disposeErr
}

// Disposed reports whether Dispose has been called.
func (a *Agent) Disposed() bool {
	select {
	case <-a.disposed:
		return true
	default:
		return false
	}
}
