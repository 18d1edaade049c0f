package gateway

import "context"

const jsonRPCVersion = "2.0"

// Server-pushed events.
const (
	EventMessageNew      = "message.new"
	EventMessageUpdated  = "message.updated"
	EventIndicatorUpdate = "ai_indicator.update"
	EventIndicatorClear  = "ai_indicator.clear"
	EventServerShutdown  = "server.shutdown"
	EventTick            = "tick"
)

// Handshake frames.
const (
	FrameAuthChallenge = "auth.challenge"
	FrameAuthResponse  = "auth.response"
	FrameAuthSuccess   = "auth.success"
	FrameAuthFailure   = "auth.failure"
)

// JSON-RPC 2.0 error codes. Codes above -32100 are gateway specific.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	AuthenticationRequired = -32001
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006
)

type RPCRequest struct {
	ID             string                 `json:"id"`
	Method         string                 `json:"method"`
	Params         map[string]interface{} `json:"params,omitempty"`
	JSONRPC        string                 `json:"jsonrpc"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

type RPCResponse struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// RPCError is both the wire error object and a Go error. Handlers return one
// to choose the code the caller sees; any other error maps to InternalError.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// RequestHandler runs one RPC method. ctx carries the trace ids and, for
// websocket calls, the caller's client id (see ClientIDFromContext).
type RequestHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// EventMessage wraps every server-pushed event. Seq grows by one per event
// across the whole server.
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	ChannelID string      `json:"channel_id,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
}

// ChallengeFrame is the first frame on every websocket connection.
type ChallengeFrame struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthFrame answers a ChallengeFrame. Signature is
// SignChallenge(sharedSecret, challenge).
type AuthFrame struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

type AuthReply struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}
