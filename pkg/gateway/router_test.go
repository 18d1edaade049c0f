package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constHandler(v interface{}, err error) RequestHandler {
	return func(context.Context, map[string]interface{}) (interface{}, error) {
		return v, err
	}
}

func TestRPCRouter_Registration(t *testing.T) {
	router := NewRPCRouter()

	require.NoError(t, router.RegisterMethod("b.second", constHandler("old", nil)))
	require.NoError(t, router.RegisterMethod("a.first", constHandler(nil, nil)))
	require.NoError(t, router.RegisterMethod("b.second", constHandler("new", nil)))
	assert.Equal(t, []string{"a.first", "b.second"}, router.GetMethods())

	resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "b.second"})
	assert.Equal(t, "new", resp.Result, "re-registering replaces the handler")

	err := router.RegisterMethod("c.nil", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler cannot be nil")

	router.UnregisterMethod("a.first")
	router.UnregisterMethod("never.registered")
	assert.False(t, router.HasMethod("a.first"))
	assert.Empty(t, NewRPCRouter().GetMethods())
}

func TestRPCRouter_ParseRequest(t *testing.T) {
	router := NewRPCRouter()

	tests := []struct {
		name     string
		data     string
		wantCode int
		wantMsg  string
	}{
		{name: "malformed json", data: `{invalid`, wantCode: ParseError},
		{name: "missing id", data: `{"method":"m"}`, wantCode: InvalidRequest, wantMsg: "missing id"},
		{name: "missing method", data: `{"id":"1"}`, wantCode: InvalidRequest, wantMsg: "missing method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.ParseRequest([]byte(tt.data))
			var rpcErr *RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.wantCode, rpcErr.Code)
			assert.Contains(t, rpcErr.Message, tt.wantMsg)
		})
	}

	req, err := router.ParseRequest([]byte(`{"id":"1","method":"message.send","params":{"channel_id":"general"}}`))
	require.NoError(t, err)
	assert.Equal(t, "message.send", req.Method)
	assert.Equal(t, "general", req.Params["channel_id"])
	assert.Equal(t, jsonRPCVersion, req.JSONRPC, "version defaults to 2.0")
}

func TestRPCRouter_RouteRequest(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("echo", func(_ context.Context, params map[string]interface{}) (interface{}, error) {
		return params["text"], nil
	}))
	require.NoError(t, router.RegisterMethod("fail", constHandler(nil, errors.New("store unavailable"))))

	tests := []struct {
		name       string
		req        *RPCRequest
		wantResult interface{}
		wantCode   int
		wantMsg    string
	}{
		{
			name:       "result",
			req:        &RPCRequest{ID: "req-1", Method: "echo", Params: map[string]interface{}{"text": "hi"}},
			wantResult: "hi",
		},
		{
			name:     "unknown method",
			req:      &RPCRequest{ID: "req-2", Method: "nope"},
			wantCode: MethodNotFound,
			wantMsg:  "nope",
		},
		{
			name:     "handler error",
			req:      &RPCRequest{ID: "req-3", Method: "fail"},
			wantCode: InternalError,
			wantMsg:  "store unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := router.RouteRequest(context.Background(), tt.req)
			assert.Equal(t, tt.req.ID, resp.ID)
			assert.Equal(t, jsonRPCVersion, resp.JSONRPC)
			if tt.wantCode == 0 {
				assert.Nil(t, resp.Error)
				assert.Equal(t, tt.wantResult, resp.Result)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Nil(t, resp.Result)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.wantMsg)
		})
	}

	assert.Equal(t, InvalidRequest, router.RouteRequest(context.Background(), nil).Error.Code)
}

func TestRPCRouter_SchemaValidation(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethodWithSchema("message.send", messageSendSchema,
		func(_ context.Context, params map[string]interface{}) (interface{}, error) {
			calls++
			return "ok", nil
		}))

	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr bool
	}{
		{name: "valid", params: map[string]interface{}{"channel_id": "general", "text": "hi"}},
		{name: "empty text allowed", params: map[string]interface{}{"channel_id": "general", "text": ""}},
		{name: "missing channel", params: map[string]interface{}{"text": "hi"}, wantErr: true},
		{name: "empty channel", params: map[string]interface{}{"channel_id": "", "text": "hi"}, wantErr: true},
		{name: "wrong type", params: map[string]interface{}{"channel_id": "general", "text": 42.0}, wantErr: true},
		{name: "unknown field", params: map[string]interface{}{"channel_id": "general", "text": "hi", "extra": true}, wantErr: true},
		{name: "nil params", params: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := calls
			resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "message.send", Params: tt.params})
			if tt.wantErr {
				require.NotNil(t, resp.Error)
				assert.Equal(t, InvalidParams, resp.Error.Code)
				assert.Contains(t, resp.Error.Message, "invalid params")
				assert.Equal(t, before, calls, "handler must not run on invalid params")
				return
			}
			assert.Nil(t, resp.Error)
			assert.Equal(t, before+1, calls)
		})
	}
}

func TestRPCRouter_RejectsBrokenSchema(t *testing.T) {
	router := NewRPCRouter()
	err := router.RegisterMethodWithSchema("broken", ParamSchema{"type": 12}, func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.False(t, router.HasMethod("broken"))
}

func TestRPCRouter_HandlerRPCErrorKeepsCode(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("needs.ws", func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, &RPCError{Code: InvalidRequest, Message: "requires a websocket connection"}
	}))

	resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "7", Method: "needs.ws"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)
}

func TestRPCRouter_IdempotencyKey(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethod("counter", func(context.Context, map[string]interface{}) (interface{}, error) {
		calls++
		return calls, nil
	}))

	first := router.RouteRequest(context.Background(), &RPCRequest{ID: "a", Method: "counter", IdempotencyKey: "k"})
	second := router.RouteRequest(context.Background(), &RPCRequest{ID: "b", Method: "counter", IdempotencyKey: "k"})
	third := router.RouteRequest(context.Background(), &RPCRequest{ID: "c", Method: "counter"})

	assert.Equal(t, 1, first.Result)
	assert.Equal(t, 1, second.Result)
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, 2, third.Result)
	assert.Equal(t, 2, calls)
}

func TestRPCRouter_RejectsEmptyMethodName(t *testing.T) {
	router := NewRPCRouter()
	err := router.RegisterMethod("", func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestRPCRouter_WrappedRPCErrorKeepsCode(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("agent.stop", func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, fmt.Errorf("stop failed: %w", &RPCError{Code: InvalidParams, Message: "unknown channel"})
	}))

	resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "9", Method: "agent.stop"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
	assert.Equal(t, "stop failed: unknown channel", resp.Error.Message)
}
