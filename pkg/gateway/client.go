package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// idleAfter marks a client idle in clients.list.
const idleAfter = 5 * time.Minute

type clientIDKey struct{}

func withClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}

// ClientIDFromContext returns the websocket client that issued the RPC call,
// or "" for HTTP calls.
func ClientIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// Client is one websocket connection.
type Client struct {
	ID          string
	IPAddress   string
	ConnectedAt time.Time

	conn    *websocket.Conn
	limiter *clientLimiter

	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	challenge     string
	failures      int
	lastSeen      time.Time
}

func newClient(id string, conn *websocket.Conn, ip string, limits RateLimits) *Client {
	now := time.Now()
	return &Client{
		ID:          id,
		IPAddress:   ip,
		ConnectedAt: now,
		conn:        conn,
		limiter:     newClientLimiter(limits),
		lastSeen:    now,
	}
}

// Authenticated reports whether the client completed the handshake.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// LastActivity is when the client last sent a frame.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ClientInfo is the clients.list view of a connection.
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Channels      []string  `json:"channels"`
	Idle          bool      `json:"idle"`
}

func (c *Client) info(now time.Time, channels []string) ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ID:            c.ID,
		Authenticated: c.authenticated,
		ConnectedAt:   c.ConnectedAt,
		LastActivity:  c.lastSeen,
		IPAddress:     c.IPAddress,
		Channels:      channels,
		Idle:          now.Sub(c.lastSeen) > idleAfter,
	}
}
