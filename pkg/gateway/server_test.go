package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/scribe/internal/metrics"
	"github.com/harun/scribe/internal/tracing"
	"github.com/harun/scribe/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// scriptedModel replies to every input with the same chunks.
type scriptedModel struct {
	chunks []string
}

func (m scriptedModel) Provider() string { return "scripted" }

func (m scriptedModel) CreateSession(context.Context, agent.SessionConfig) (agent.ModelSession, error) {
	return scriptedSession(m), nil
}

type scriptedSession struct {
	chunks []string
}

func (s scriptedSession) StreamReply(context.Context, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (s scriptedSession) Close() error { return nil }

func dialAuthenticated(t *testing.T, ts *httptest.Server, secret string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var challenge ChallengeFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, "auth.challenge", challenge.Event)
	require.Len(t, challenge.Challenge, 64)

	require.NoError(t, conn.WriteJSON(AuthFrame{
		Method:    FrameAuthResponse,
		Signature: SignChallenge(secret, challenge.Challenge),
	}))

	var result AuthReply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&result))
	require.True(t, result.Success, result.Message)
	return conn
}

// frame is either an RPC response or an event envelope.
type frame struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	ChannelID string          `json:"channel_id"`
	Result    json.RawMessage `json:"result"`
	Error     *RPCError       `json:"error"`
	Data      json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(RPCRequest{ID: id, Method: method, Params: params}))
}

func TestServer_WebSocketAgentConversation(t *testing.T) {
	m := metrics.NewMetrics()
	srv := newTestServer(t, m)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	a, err := agent.New(context.Background(), agent.Options{
		ChannelID: "general",
		APIKey:    "test-key",
		Transport: srv.Channel("general"),
		Client:    scriptedModel{chunks: []string{"Hello", ", world"}},
		Logger:    zerolog.Nop(),
		Metrics:   m,
	})
	require.NoError(t, err)
	defer a.Dispose(context.Background())

	conn := dialAuthenticated(t, ts, "test-secret")

	call(t, conn, "1", "channel.subscribe", map[string]interface{}{"channel_id": "general"})
	sub := readFrame(t, conn)
	require.Equal(t, "1", sub.ID)
	require.Nil(t, sub.Error)

	call(t, conn, "2", "message.send", map[string]interface{}{"channel_id": "general", "text": "Say hello"})

	var (
		events   []string
		updates  []string
		sendResp *frame
	)
	for len(events) == 0 || events[len(events)-1] != EventIndicatorClear {
		f := readFrame(t, conn)
		if f.Type != "event" {
			if f.ID == "2" {
				sendResp = &f
			}
			continue
		}
		assert.Equal(t, "general", f.ChannelID)
		events = append(events, f.Event)
		if f.Event == EventMessageUpdated {
			var payload MessageEvent
			require.NoError(t, json.Unmarshal(f.Data, &payload))
			assert.True(t, payload.Message.AgentGenerated)
			updates = append(updates, payload.Message.Text)
		}
	}
	a.Wait()

	assert.Equal(t, []string{
		EventMessageNew,      // user message
		EventMessageNew,      // placeholder
		EventIndicatorUpdate, // thinking
		EventMessageUpdated,
		EventMessageUpdated,
		EventIndicatorClear,
	}, events)
	assert.Equal(t, []string{"Hello", "Hello, world"}, updates)

	if sendResp == nil {
		f := readFrame(t, conn)
		sendResp = &f
	}
	require.Nil(t, sendResp.Error)

	history, err := srv.Store().History(context.Background(), "general", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Say hello", history[0].Text)
	assert.False(t, history[0].AgentGenerated)
	assert.Equal(t, "Hello, world", history[1].Text)
	assert.True(t, history[1].AgentGenerated)
}

func TestServer_RequiresAuthentication(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge ChallengeFrame
	require.NoError(t, conn.ReadJSON(&challenge))

	call(t, conn, "1", "clients.list", nil)
	f := readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, AuthenticationRequired, f.Error.Code)

	for i := 0; i < maxAuthAttempts; i++ {
		require.NoError(t, conn.WriteJSON(AuthFrame{Method: FrameAuthResponse, Signature: "bogus"}))
		var result AuthReply
		require.NoError(t, conn.ReadJSON(&result))
		assert.False(t, result.Success)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "connection should be closed after too many failures")
}

func TestServer_WebSocketRejectsInvalidParams(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialAuthenticated(t, ts, "test-secret")
	call(t, conn, "9", "message.send", map[string]interface{}{"channel_id": "general"})

	f := readFrame(t, conn)
	assert.Equal(t, "9", f.ID)
	require.NotNil(t, f.Error)
	assert.Equal(t, InvalidParams, f.Error.Code)
}

func postRPC(t *testing.T, url, secret string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url+"/rpc", bytes.NewReader(payload))
	require.NoError(t, err)
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_HTTPRPC(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Run("should reject a missing secret", func(t *testing.T) {
		resp := postRPC(t, ts.URL, "", RPCRequest{ID: "1", Method: "clients.list"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should reject a wrong secret", func(t *testing.T) {
		resp := postRPC(t, ts.URL, "nope", RPCRequest{ID: "1", Method: "clients.list"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should send and read back history", func(t *testing.T) {
		resp := postRPC(t, ts.URL, "test-secret", RPCRequest{
			ID:     "1",
			Method: "message.send",
			Params: map[string]interface{}{"channel_id": "general", "text": "from http"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postRPC(t, ts.URL, "test-secret", RPCRequest{
			ID:     "2",
			Method: "channel.history",
			Params: map[string]interface{}{"channel_id": "general", "limit": 5},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Result struct {
				ConversationID string          `json:"cid"`
				Messages       []StoredMessage `json:"messages"`
			} `json:"result"`
			Error *RPCError `json:"error"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Nil(t, out.Error)
		assert.Equal(t, "general", out.Result.ConversationID)
		require.Len(t, out.Result.Messages, 1)
		assert.Equal(t, "from http", out.Result.Messages[0].Text)
	})

	t.Run("should reject channel.subscribe over http", func(t *testing.T) {
		resp := postRPC(t, ts.URL, "test-secret", RPCRequest{
			ID:     "3",
			Method: "channel.subscribe",
			Params: map[string]interface{}{"channel_id": "general"},
		})
		var out RPCResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.NotNil(t, out.Error)
		assert.Equal(t, InvalidRequest, out.Error.Code)
	})

	t.Run("should answer malformed bodies with a parse error", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/rpc", strings.NewReader("{"))
		require.NoError(t, err)
		req.Header.Set(SecretHeader, "test-secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("should refuse GET", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/rpc")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, metrics.NewMetrics())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	srv := newTestServer(t, nil)
	require.NoError(t, srv.Start())
	assert.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func TestServer_HTTPRPCTraceID(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	srv := newTestServer(t, nil)
	require.NoError(t, srv.RegisterMethod("trace.echo", func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		return tracing.GetTraceID(ctx), nil
	}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "explicit header",
			headers: map[string]string{TraceIDHeader: "trace-from-header"},
			want:    "trace-from-header",
		},
		{
			name:    "w3c traceparent",
			headers: map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
			want:    "4bf92f3577b34da6a3ce929d0e0e4736",
		},
		{
			name: "generated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/rpc", strings.NewReader(`{"id":"1","method":"trace.echo"}`))
			require.NoError(t, err)
			req.Header.Set(SecretHeader, "test-secret")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var out struct {
				Result string    `json:"result"`
				Error  *RPCError `json:"error"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			require.Nil(t, out.Error)
			if tt.want != "" {
				assert.Equal(t, tt.want, out.Result)
			} else {
				assert.NotEmpty(t, out.Result)
			}
		})
	}
}

func TestServer_WebSocketRateLimit(t *testing.T) {
	srv, err := NewServer(Config{
		Host:         "127.0.0.1",
		SharedSecret: "test-secret",
		RateLimits:   RateLimits{RequestsPerMinute: 1, MaxConcurrent: 5},
		Store:        newTestStore(t),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialAuthenticated(t, ts, "test-secret")
	call(t, conn, "1", "clients.list", nil)
	first := readFrame(t, conn)
	require.Nil(t, first.Error)

	call(t, conn, "2", "clients.list", nil)
	second := readFrame(t, conn)
	assert.Equal(t, "2", second.ID)
	require.NotNil(t, second.Error)
	assert.Equal(t, RateLimitExceeded, second.Error.Code)
}
