package gateway

import (
	"sort"
	"sync"
	"time"
)

// WildcardChannel subscribes a client to every channel.
const WildcardChannel = "*"

// ClientRegistry tracks connected clients and which channels each follows.
// Subscriptions are indexed both ways so fan-out only visits followers.
type ClientRegistry struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	following map[string]map[string]struct{} // client id -> channel ids
	followers map[string]map[string]*Client  // channel id -> client id -> client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients:   make(map[string]*Client),
		following: make(map[string]map[string]struct{}),
		followers: make(map[string]map[string]*Client),
	}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
}

// Remove drops a client and every subscription it held.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channelID := range r.following[clientID] {
		r.unfollowLocked(clientID, channelID)
	}
	delete(r.following, clientID)
	delete(r.clients, clientID)
}

func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	return c, ok
}

func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns every connected client, authenticated or not.
func (r *ClientRegistry) All() []*Client {
	return r.filter(func(*Client) bool { return true })
}

// Authenticated returns the clients that completed the handshake.
func (r *ClientRegistry) Authenticated() []*Client {
	return r.filter((*Client).Authenticated)
}

func (r *ClientRegistry) filter(keep func(*Client) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// Subscribe makes clientID follow channelID. It reports false for an
// unknown client.
func (r *ClientRegistry) Subscribe(clientID, channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return false
	}
	if r.following[clientID] == nil {
		r.following[clientID] = make(map[string]struct{})
	}
	r.following[clientID][channelID] = struct{}{}
	if r.followers[channelID] == nil {
		r.followers[channelID] = make(map[string]*Client)
	}
	r.followers[channelID][clientID] = c
	return true
}

func (r *ClientRegistry) Unsubscribe(clientID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs := r.following[clientID]; subs != nil {
		delete(subs, channelID)
	}
	r.unfollowLocked(clientID, channelID)
}

func (r *ClientRegistry) unfollowLocked(clientID, channelID string) {
	set := r.followers[channelID]
	delete(set, clientID)
	if len(set) == 0 {
		delete(r.followers, channelID)
	}
}

// Subscribers returns the authenticated clients following channelID
// directly or through the wildcard, each once.
func (r *ClientRegistry) Subscribers(channelID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]*Client, 0, len(r.followers[channelID]))
	for _, set := range []map[string]*Client{r.followers[channelID], r.followers[WildcardChannel]} {
		for id, c := range set {
			if _, dup := seen[id]; dup || !c.Authenticated() {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Snapshot describes every client for clients.list, ordered by connect time.
func (r *ClientRegistry) Snapshot() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for id, c := range r.clients {
		channels := make([]string, 0, len(r.following[id]))
		for ch := range r.following[id] {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		infos = append(infos, c.info(now, channels))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
