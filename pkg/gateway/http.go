package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/harun/scribe/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// maxRPCBody caps HTTP RPC request bodies.
const maxRPCBody = 1 << 20

// TraceIDHeader lets HTTP callers choose the trace id of their call.
const TraceIDHeader = "X-Trace-Id"

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRPC answers one JSON-RPC call per POST.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.checkSecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		resp := errorResponse("", ParseError, err.Error())
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			resp.Error.Code = rpcErr.Code
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	// A W3C traceparent makes the gateway.rpc span a child of the caller's.
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	switch id := r.Header.Get(TraceIDHeader); {
	case id != "":
		ctx = tracing.WithTraceID(ctx, id)
	case tracing.GetTraceID(ctx) == "":
		ctx = tracing.NewRequestContext(ctx)
	}

	log := tracing.LoggerFromContext(ctx, s.logger)
	log.Info().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	s.inFlight.Add(1)
	resp := s.router.RouteRequest(ctx, req)
	s.inFlight.Done()

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
