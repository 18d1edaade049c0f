package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/scribe/internal/metrics"
	"github.com/rs/zerolog"
)

// SecretHeader carries the shared secret on HTTP RPC calls.
const SecretHeader = "X-Scribe-Secret"

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int // 0 picks a free port
	SharedSecret string
	TickInterval time.Duration // 0 disables tick events
	RateLimits   RateLimits
	Store        *Store
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// Server is the chat gateway. Clients authenticate over /ws with a
// challenge signed by the shared secret, or send single RPC calls to /rpc
// with the secret in SecretHeader.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	auth        *authenticator
	clients     *ClientRegistry
	router      *RPCRouter
	broadcaster *EventBroadcaster
	hub         *channelHub
	store       *Store
	metrics     *metrics.Metrics

	httpServer *http.Server
	listener   net.Listener

	draining atomic.Bool
	inFlight sync.WaitGroup

	stopTick context.CancelFunc
	tickDone sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Port < 0:
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	case cfg.SharedSecret == "":
		return nil, fmt.Errorf("shared secret is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("message store is required")
	}
	if cfg.TickInterval < 0 {
		cfg.TickInterval = 0
	}
	cfg.RateLimits = cfg.RateLimits.withDefaults()

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	s := &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		auth:        newAuthenticator(cfg.SharedSecret),
		clients:     clients,
		router:      NewRPCRouter(),
		broadcaster: NewEventBroadcaster(clients, logger),
		hub:         newChannelHub(),
		store:       cfg.Store,
		metrics:     cfg.Metrics,
	}
	s.registerBuiltinMethods()
	return s, nil
}

// Handler serves /ws, /rpc, /healthz and, with metrics configured, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTicker()
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new connections, tells clients the server is going away,
// waits for in-flight calls until ctx expires and then closes everything.
func (s *Server) Stop(ctx context.Context) error {
	s.draining.Store(true)
	s.logger.Info().Msg("Shutting down gateway server")
	s.stopTicker()

	s.broadcaster.Broadcast(EventServerShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, closing with calls in flight")
	}

	for _, c := range s.clients.All() {
		_ = c.Close()
	}

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) startTicker() {
	if s.cfg.TickInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopTick = cancel
	s.tickDone.Add(1)

	go func() {
		defer s.tickDone.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.broadcaster.Broadcast(EventTick, map[string]interface{}{
					"status":  "alive",
					"clients": s.clients.Len(),
				})
			}
		}
	}()
}

func (s *Server) stopTicker() {
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
	s.tickDone.Wait()
}

// Broadcast sends event to every authenticated client.
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// RegisterMethodWithSchema registers handler with params validated against schema.
func (s *Server) RegisterMethodWithSchema(name string, schema ParamSchema, handler RequestHandler) error {
	return s.router.RegisterMethodWithSchema(name, schema, handler)
}

func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// Store returns the message store.
func (s *Server) Store() *Store {
	return s.store
}
