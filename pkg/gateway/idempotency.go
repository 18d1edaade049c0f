package gateway

import (
	"sync"
	"time"
)

const defaultIdempotencyTTL = 5 * time.Minute

// idempotencyCache remembers responses by method and client key so a
// retried call (a resent message.send) runs its handler once. A duplicate
// that arrives while the first call is still running waits for its result.
type idempotencyCache struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	done     map[string]cachedRPCResponse
	inFlight map[string]*pendingCall
}

type cachedRPCResponse struct {
	response  RPCResponse
	expiresAt time.Time
}

type pendingCall struct {
	finished chan struct{}
	response RPCResponse
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	return &idempotencyCache{
		ttl:      ttl,
		now:      time.Now,
		done:     make(map[string]cachedRPCResponse),
		inFlight: make(map[string]*pendingCall),
	}
}

func idempotencyCacheKey(method, key string) string {
	if key == "" {
		return ""
	}
	return method + ":" + key
}

// do returns the cached response for key or runs call and caches its result.
// An empty key always runs call.
func (c *idempotencyCache) do(key string, call func() RPCResponse) RPCResponse {
	if key == "" {
		return call()
	}

	c.mu.Lock()
	now := c.now()
	c.evictLocked(now)
	if entry, ok := c.done[key]; ok {
		c.mu.Unlock()
		return cloneRPCResponse(entry.response)
	}
	if pending, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		<-pending.finished
		return cloneRPCResponse(pending.response)
	}
	pending := &pendingCall{finished: make(chan struct{})}
	c.inFlight[key] = pending
	c.mu.Unlock()

	response := call()

	c.mu.Lock()
	pending.response = cloneRPCResponse(response)
	delete(c.inFlight, key)
	c.done[key] = cachedRPCResponse{
		response:  pending.response,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
	close(pending.finished)

	return response
}

func (c *idempotencyCache) evictLocked(now time.Time) {
	for key, entry := range c.done {
		if now.After(entry.expiresAt) {
			delete(c.done, key)
		}
	}
}

func (c *idempotencyCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}

func cloneRPCResponse(src RPCResponse) RPCResponse {
	cloned := src
	if src.Error != nil {
		errCopy := *src.Error
		cloned.Error = &errCopy
	}
	return cloned
}
