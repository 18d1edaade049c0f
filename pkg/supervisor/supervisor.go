package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/scribe/internal/audit"
	"github.com/harun/scribe/internal/metrics"
	"github.com/harun/scribe/pkg/agent"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultReapSchedule = "@every 1m"
)

var (
	ErrAgentExists   = errors.New("agent already running for channel")
	ErrAgentNotFound = errors.New("no agent running for channel")
	ErrClosed        = errors.New("supervisor is closed")
)

// Factory builds the agent bound to channelID.
type Factory func(ctx context.Context, channelID string) (*agent.Agent, error)

// Options configures a Supervisor.
type Options struct {
	Factory Factory

	// IdleTimeout is how long an agent may go without an accepted message
	// before the reaper disposes it. Negative disables reaping.
	IdleTimeout time.Duration

	// ReapSchedule is a cron spec or descriptor such as "@every 1m".
	ReapSchedule string

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Audit   *audit.Logger
}

// AgentInfo describes a running agent.
type AgentInfo struct {
	ChannelID       string    `json:"channel_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastInteraction time.Time `json:"last_interaction"`
	IdleSeconds     float64   `json:"idle_seconds"`
}

// Supervisor owns at most one agent per channel and disposes idle ones.
type Supervisor struct {
	factory     Factory
	idleTimeout time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	audit       *audit.Logger

	mu       sync.Mutex
	agents   map[string]*agent.Agent
	starting map[string]struct{}
	closed   bool

	cron    *cron.Cron
	runMu   sync.Mutex
	running bool
}

// New validates opts and schedules the reaper. The reaper does not run
// until Run is called.
func New(opts Options) (*Supervisor, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.ReapSchedule == "" {
		opts.ReapSchedule = DefaultReapSchedule
	}

	s := &Supervisor{
		factory:     opts.Factory,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger.With().Str("component", "supervisor").Logger(),
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		agents:      make(map[string]*agent.Agent),
		starting:    make(map[string]struct{}),
		cron:        cron.New(),
	}

	if _, err := s.cron.AddFunc(opts.ReapSchedule, func() {
		s.Reap(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", opts.ReapSchedule, err)
	}

	return s, nil
}

// Start creates and registers the agent for channelID.
func (s *Supervisor) Start(ctx context.Context, channelID string) (*agent.Agent, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := s.agents[channelID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, channelID)
	}
	if _, ok := s.starting[channelID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, channelID)
	}
	s.starting[channelID] = struct{}{}
	s.mu.Unlock()

	a, err := s.factory(ctx, channelID)

	s.mu.Lock()
	delete(s.starting, channelID)
	closed := s.closed
	if err == nil && !closed {
		s.agents[channelID] = a
	}
	s.mu.Unlock()

	if err == nil && closed {
		_ = a.Dispose(ctx)
		return nil, ErrClosed
	}
	if err != nil {
		s.logger.Error().Err(err).Str("channel_id", channelID).Msg("Failed to start agent")
		s.audit.Agent(ctx, audit.ActionAgentStarted, channelID, err, nil)
		return nil, err
	}

	s.logger.Info().Str("channel_id", channelID).Msg("Agent registered")
	s.audit.Agent(ctx, audit.ActionAgentStarted, channelID, nil, nil)
	return a, nil
}

// Stop disposes the agent for channelID. Replies already streaming finish on their own.
func (s *Supervisor) Stop(ctx context.Context, channelID string) error {
	s.mu.Lock()
	a, ok := s.agents[channelID]
	delete(s.agents, channelID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, channelID)
	}

	s.logger.Info().Str("channel_id", channelID).Msg("Stopping agent")
	err := a.Dispose(ctx)
	s.audit.Agent(ctx, audit.ActionAgentStopped, channelID, err, nil)
	return err
}

// Get returns the agent for channelID.
func (s *Supervisor) Get(channelID string) (*agent.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[channelID]
	return a, ok
}

// List returns the running agents sorted by channel id.
func (s *Supervisor) List() []AgentInfo {
	s.mu.Lock()
	agents := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.Unlock()

	infos := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		session := a.Session()
		infos = append(infos, AgentInfo{
			ChannelID:       a.ChannelID(),
			CreatedAt:       session.CreatedAt(),
			LastInteraction: session.LastInteraction(),
			IdleSeconds:     session.IdleFor().Seconds(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ChannelID < infos[j].ChannelID })
	return infos
}

// StopAll disposes every agent, then waits for their in-flight replies
// until ctx is done.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	agents := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.agents = make(map[string]*agent.Agent)
	s.mu.Unlock()

	var errs []error
	for _, a := range agents {
		err := a.Dispose(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("dispose %s: %w", a.ChannelID(), err))
		}
		s.audit.Agent(ctx, audit.ActionAgentStopped, a.ChannelID(), err, map[string]interface{}{"reason": "shutdown"})
	}

	done := make(chan struct{})
	go func() {
		for _, a := range agents {
			a.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for replies: %w", ctx.Err()))
	}

	s.logger.Info().Int("count", len(agents)).Msg("All agents stopped")
	return errors.Join(errs...)
}

// Reap disposes agents idle for at least the idle timeout and returns how many.
func (s *Supervisor) Reap(ctx context.Context) int {
	if s.idleTimeout < 0 {
		return 0
	}

	s.mu.Lock()
	var idle []*agent.Agent
	for id, a := range s.agents {
		if a.Session().IdleFor() >= s.idleTimeout {
			idle = append(idle, a)
			delete(s.agents, id)
		}
	}
	s.mu.Unlock()

	for _, a := range idle {
		err := a.Dispose(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel_id", a.ChannelID()).Msg("Failed to dispose idle agent")
		}
		s.metrics.AgentReaped()
		s.audit.Agent(ctx, audit.ActionAgentReaped, a.ChannelID(), err, map[string]interface{}{
			"idle_timeout_seconds": s.idleTimeout.Seconds(),
		})
		s.logger.Info().
			Str("channel_id", a.ChannelID()).
			Dur("idle_timeout", s.idleTimeout).
			Msg("Reaped idle agent")
	}
	return len(idle)
}

// Run starts the reaper schedule.
func (s *Supervisor) Run() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.running {
		return fmt.Errorf("supervisor is already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Dur("idle_timeout", s.idleTimeout).Msg("Idle reaper started")
	return nil
}

// Close stops the reaper schedule, waits for a running reap to finish and
// rejects further Start calls. Agents are left running; use StopAll for those.
func (s *Supervisor) Close() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if !s.running {
		return nil
	}
	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Info().Msg("Idle reaper stopped")
	return nil
}
