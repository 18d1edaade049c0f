package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/scribe/internal/audit"
	"github.com/harun/scribe/internal/config"
	"github.com/harun/scribe/internal/logger"
	"github.com/harun/scribe/internal/metrics"
	"github.com/harun/scribe/internal/telegram"
	"github.com/harun/scribe/internal/tracing"
	"github.com/harun/scribe/pkg/agent"
	"github.com/harun/scribe/pkg/channels"
	"github.com/harun/scribe/pkg/gateway"
	"github.com/harun/scribe/pkg/supervisor"
)

const shutdownTimeout = 10 * time.Second

// Options carries what the daemon needs beyond the config file.
type Options struct {
	Version string

	// Loader enables config hot reload when set.
	Loader *config.Loader
}

// Status describes the daemon state.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Agents    int           `json:"agents"`
}

// Daemon wires the transports, the model client and the agent supervisor.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	version string
	metrics *metrics.Metrics
	audit   *audit.Logger

	modelClient   agent.ModelClient
	store         *gateway.Store
	gatewayServer *gateway.Server
	telegramBot   *telegram.Bot
	channels      *channels.Registry
	supervisor    *supervisor.Supervisor
	watcher       *config.Watcher
	pidLock       *pidLock

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	shutdownTracing tracing.ShutdownFunc
}

var newModelClient = func(provider string) (agent.ModelClient, error) {
	return (&agent.ProviderFactory{}).NewClient(provider)
}

var newTelegramBot = func(cfg *config.TelegramConfig, log *logger.Logger, m *metrics.Metrics) (*telegram.Bot, error) {
	return telegram.New(cfg, log.GetZerolog(), m)
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := &Daemon{
		config:   cfg,
		logger:   log,
		version:  opts.Version,
		metrics:  metrics.NewMetrics(),
		channels: channels.NewRegistry(gatewayChannelName),
		pidLock:  newPIDLock(cfg.DataDir),
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: opts.Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
			Exporter:       cfg.Tracing.Exporter,
			Endpoint:       cfg.Tracing.Endpoint,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.shutdownTracing = shutdown
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("Tracing initialized")
		}
	}

	if err := d.initialize(opts); err != nil {
		d.release()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) initialize(opts Options) error {
	zl := d.logger.GetZerolog()

	if path := d.config.Logging.AuditFile; path != "" {
		auditLog, err := audit.Open(path)
		if err != nil {
			return err
		}
		d.audit = auditLog
		d.logger.Info().Str("path", path).Msg("Audit log opened")
	}

	client, err := newModelClient(d.config.Model.Provider)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	d.modelClient = client
	d.logger.Info().
		Str("provider", client.Provider()).
		Str("model", d.config.Model.Name).
		Msg("Model client initialized")

	if d.config.Model.APIKey == "" {
		d.logger.Warn().
			Str("env", d.config.Model.APIKeyEnv()).
			Msg("No model API key configured, agents will fail to start")
	}

	store, err := gateway.OpenStore(d.config.Gateway.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open message store: %w", err)
	}
	d.store = store
	d.logger.Info().Str("path", d.config.Gateway.StorePath).Msg("Message store opened")

	server, err := gateway.NewServer(gateway.Config{
		Host:         d.config.Gateway.Host,
		Port:         d.config.Gateway.Port,
		SharedSecret: d.config.Gateway.SharedSecret,
		TickInterval: time.Duration(d.config.Gateway.TickIntervalSeconds) * time.Second,
		RateLimits: gateway.RateLimits{
			RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
			MaxConcurrent:     d.config.Gateway.MaxConcurrent,
		},
		Store:   store,
		Metrics: d.metrics,
		Logger:  zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server
	if err := d.channels.Register(&gatewayChannel{server: server}); err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Options{
		Factory:      d.newAgent,
		IdleTimeout:  d.config.Supervisor.IdleTimeout(),
		ReapSchedule: d.config.Supervisor.ReapSchedule,
		Logger:       zl,
		Metrics:      d.metrics,
		Audit:        d.audit,
	})
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}
	d.supervisor = sup

	if err := d.registerMethods(); err != nil {
		return fmt.Errorf("failed to register gateway methods: %w", err)
	}

	if d.config.Telegram.Enabled {
		bot, err := newTelegramBot(&d.config.Telegram, d.logger, d.metrics)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		bot.SetChatStarter(d.startTelegramChat)
		d.telegramBot = bot
		if err := d.channels.Register(&telegramChannel{bot: bot}); err != nil {
			return err
		}
		d.logger.Info().Int("allowlist", len(d.config.Telegram.Allowlist)).Msg("Telegram bot initialized")
	}

	if opts.Loader != nil {
		watcher, err := config.NewWatcher(opts.Loader, 0, d.applyConfig, zl)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	return nil
}

// newAgent is the supervisor factory: it binds channelID to the transport
// that owns it and opens a model session.
func (d *Daemon) newAgent(ctx context.Context, channelID string) (*agent.Agent, error) {
	transport, err := d.channels.Transport(channelID)
	if err != nil {
		return nil, err
	}

	model := d.config.Model
	return agent.New(ctx, agent.Options{
		ChannelID: channelID,
		APIKey:    model.APIKey,
		Model:     model.Name,
		Transport: transport,
		Client:    d.modelClient,
		Generation: agent.GenerationConfig{
			MaxOutputTokens: model.MaxOutputTokens,
			Temperature:     model.Temperature,
		},
		Responder: d.responderConfig(transport),
		Logger:    d.logger.GetZerolog(),
		Metrics:   d.metrics,
	})
}

// responderConfig applies transport limits on top of the configured responder.
// Telegram rate limits edits per chat, so its replies coalesce chunks.
func (d *Daemon) responderConfig(transport agent.Transport) *agent.ResponderConfig {
	cfg := &agent.ResponderConfig{
		MinUpdateInterval: d.config.Responder.MinUpdateInterval(),
		ClearOnFailure:    d.config.Responder.ClearOnFailure,
	}
	if _, ok := transport.(*telegram.ChatTransport); ok && cfg.MinUpdateInterval < telegram.MinEditInterval {
		cfg.MinUpdateInterval = telegram.MinEditInterval
	}
	return cfg
}

// startTelegramChat starts an agent the first time a chat writes to the bot.
func (d *Daemon) startTelegramChat(ctx context.Context, chatID int64) error {
	_, err := d.supervisor.Start(ctx, telegram.ChannelID(chatID))
	if errors.Is(err, supervisor.ErrAgentExists) {
		return nil
	}
	return err
}

// applyConfig applies the settings that can change without a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		d.logger.Warn().Err(err).Str("level", cfg.Logging.Level).Msg("Ignoring invalid log level")
		return
	}
	d.logger.Info().Str("level", cfg.Logging.Level).Msg("Configuration reloaded")
	d.audit.Config(context.Background(), audit.ActionConfigReloaded, map[string]interface{}{
		"level": cfg.Logging.Level,
	})
}

// Start starts every service and the agents listed in gateway.channels. On
// failure everything already started is stopped again.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	ctx := tracing.NewRequestContext(context.Background())
	log := tracing.LoggerFromContext(ctx, d.logger.GetZerolog())
	log.Info().Str("version", d.version).Msg("Starting scribe daemon")

	if err := d.startServices(ctx); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	for _, channelID := range d.config.Gateway.Channels {
		if _, err := d.supervisor.Start(ctx, channelID); err != nil {
			log.Error().Err(err).Str("channel_id", channelID).Msg("Failed to start agent")
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	log.Info().Int("agents", len(d.supervisor.List())).Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) startServices(ctx context.Context) error {
	if err := d.pidLock.acquire(); err != nil {
		return err
	}

	if err := d.channels.StartAll(ctx); err != nil {
		_ = d.pidLock.release()
		return fmt.Errorf("failed to start channels: %w", err)
	}
	d.logger.Info().
		Strs("channels", d.channels.Names()).
		Str("addr", d.gatewayServer.Addr()).
		Msg("Channels started")

	if err := d.supervisor.Run(); err != nil {
		stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		_ = d.channels.StopAll(stopCtx)
		_ = d.pidLock.release()
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	return nil
}

// Stop shuts everything down in reverse order. Agents are disposed before the
// channels stop so their final updates still reach clients.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	ctx := tracing.NewRequestContext(context.Background())
	log := tracing.LoggerFromContext(ctx, d.logger.GetZerolog())
	log.Info().Msg("Stopping scribe daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if err := d.supervisor.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to stop idle reaper")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := d.supervisor.StopAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop agents")
	}

	if err := d.channels.StopAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop channels")
	}

	if err := d.pidLock.release(); err != nil {
		log.Error().Err(err).Msg("Failed to remove PID file")
	}

	d.release()

	log.Info().Msg("Daemon stopped successfully")
	return nil
}

// Close releases the store, audit log and tracer of a daemon that never
// started or failed to start. Stop does this itself.
func (d *Daemon) Close() {
	d.release()
}

// release closes resources that outlive Start/Stop. It is idempotent.
func (d *Daemon) release() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close message store")
		}
	}

	if err := d.audit.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close audit log")
	}

	if d.shutdownTracing != nil {
		if err := d.shutdownTracing(context.Background()); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		d.shutdownTracing = nil
	}
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Agents:  len(d.supervisor.List()),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetSupervisor returns the agent supervisor
func (d *Daemon) GetSupervisor() *supervisor.Supervisor {
	return d.supervisor
}

// GetChannels returns the channel registry.
func (d *Daemon) GetChannels() *channels.Registry {
	return d.channels
}

// GetTelegramBot returns the Telegram bot, or nil when disabled.
func (d *Daemon) GetTelegramBot() *telegram.Bot {
	return d.telegramBot
}
