package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/scribe/internal/tracing"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// RPCRouter dispatches JSON-RPC requests to registered methods.
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]registeredMethod

	idempotency *idempotencyCache
}

type registeredMethod struct {
	handler RequestHandler
	schema  *gojsonschema.Schema
}

// NewRPCRouter creates a router with a five minute idempotency window.
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods:     make(map[string]registeredMethod),
		idempotency: newIdempotencyCache(defaultIdempotencyTTL),
	}
}

// RegisterMethod registers handler without params validation.
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	return r.RegisterMethodWithSchema(name, nil, handler)
}

// RegisterMethodWithSchema registers handler and validates params against
// schema before every call. A nil schema accepts any params. Registering an
// existing name replaces it.
func (r *RPCRouter) RegisterMethodWithSchema(name string, schema ParamSchema, handler RequestHandler) error {
	if name == "" {
		return fmt.Errorf("method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("method %s: %w", name, err)
	}

	r.mu.Lock()
	r.methods[name] = registeredMethod{handler: handler, schema: compiled}
	r.mu.Unlock()
	return nil
}

// UnregisterMethod removes a method.
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	delete(r.methods, name)
	r.mu.Unlock()
}

// ParseRequest decodes data and checks the fields every request needs.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	switch {
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = jsonRPCVersion
	}
	return &req, nil
}

// RouteRequest runs the handler for req inside a gateway.rpc span. Requests
// carrying an idempotency key reuse the response of the first call with the
// same method and key.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", InvalidRequest, "invalid request")
	}

	ctx, span := tracing.StartSpan(ctx, "gateway.rpc",
		attribute.String("rpc.method", req.Method),
		attribute.Bool("rpc.idempotent", req.IdempotencyKey != ""),
	)

	key := idempotencyCacheKey(req.Method, req.IdempotencyKey)
	response := r.idempotency.do(key, func() RPCResponse {
		return r.dispatch(ctx, req)
	})
	response.ID = req.ID

	var spanErr error
	if response.Error != nil {
		span.SetAttributes(attribute.Int("rpc.error_code", response.Error.Code))
		spanErr = response.Error
	}
	tracing.End(span, spanErr)

	return &response
}

func (r *RPCRouter) dispatch(ctx context.Context, req *RPCRequest) RPCResponse {
	r.mu.RLock()
	method, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		return *errorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	if err := validateParams(method.schema, req.Params); err != nil {
		return *errorResponse(req.ID, InvalidParams, err.Error())
	}

	result, err := method.handler(ctx, req.Params)
	if err != nil {
		code := InternalError
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			code = rpcErr.Code
		}
		return *errorResponse(req.ID, code, err.Error())
	}

	return RPCResponse{ID: req.ID, JSONRPC: jsonRPCVersion, Result: result}
}

// HasMethod reports whether name is registered.
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.methods[name]
	return exists
}

// GetMethods returns the registered method names, sorted.
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	r.mu.RUnlock()

	sort.Strings(methods)
	return methods
}

func errorResponse(id string, code int, message string) *RPCResponse {
	return &RPCResponse{
		ID:      id,
		JSONRPC: jsonRPCVersion,
		Error:   &RPCError{Code: code, Message: message},
	}
}
