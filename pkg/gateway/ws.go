package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/harun/scribe/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}
	c := newClient(id, conn, r.RemoteAddr, s.cfg.RateLimits)
	log := s.logger.With().Str("clientId", id).Logger()

	challenge, err := s.auth.issue(c)
	if err == nil {
		err = c.WriteJSON(challenge)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to send auth challenge")
		_ = conn.Close()
		return
	}

	s.clients.Add(c)
	log.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	go s.serveClient(c)
}

// serveClient reads frames from c until the connection drops.
func (s *Server) serveClient(c *Client) {
	defer func() {
		_ = c.Close()
		s.clients.Remove(c.ID)
		s.logger.Info().Str("clientId", c.ID).Msg("Client disconnected")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", c.ID).Msg("WebSocket error")
			}
			return
		}
		c.touch()
		s.handleFrame(c, data)
	}
}

// handleFrame answers a handshake frame inline and runs RPC calls in their
// own goroutine so a slow method does not block the connection.
func (s *Server) handleFrame(c *Client, data []byte) {
	var hs AuthFrame
	if json.Unmarshal(data, &hs) == nil && hs.Method == FrameAuthResponse {
		s.handleAuth(c, hs.Signature)
		return
	}

	if !c.Authenticated() {
		s.replyError(c, "", &RPCError{Code: AuthenticationRequired, Message: "Authentication required"})
		return
	}

	req, err := s.router.ParseRequest(data)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: ParseError, Message: err.Error()}
		}
		s.replyError(c, "", rpcErr)
		return
	}

	release, limited := c.limiter.acquire()
	if limited != nil {
		s.replyError(c, req.ID, limited)
		return
	}

	ctx := withClientID(tracing.NewRequestContext(context.Background()), c.ID)
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer release()

		if err := c.WriteJSON(s.router.RouteRequest(ctx, req)); err != nil {
			s.logger.Error().Err(err).
				Str("clientId", c.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
}

func (s *Server) handleAuth(c *Client, signature string) {
	reply, exhausted := s.auth.answer(c, signature)
	log := s.logger.With().Str("clientId", c.ID).Logger()

	if err := c.WriteJSON(reply); err != nil {
		log.Error().Err(err).Msg("Failed to send auth result")
		return
	}

	switch {
	case reply.Success:
		log.Info().Msg("Client authenticated")
	case exhausted:
		log.Warn().Str("reason", reply.Message).Msg("Authentication failed, closing connection")
		_ = c.Close()
	default:
		log.Warn().Str("reason", reply.Message).Msg("Authentication failed")
	}
}

func (s *Server) replyError(c *Client, requestID string, rpcErr *RPCError) {
	resp := errorResponse(requestID, rpcErr.Code, rpcErr.Message)
	if err := c.WriteJSON(resp); err != nil {
		s.logger.Error().Err(err).Str("clientId", c.ID).Msg("Failed to send error response")
	}
}
