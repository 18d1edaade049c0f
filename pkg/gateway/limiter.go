package gateway

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimits bounds RPC traffic per websocket client. Zero fields take the
// default.
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	MaxConcurrent     int `json:"max_concurrent"`
}

// DefaultRateLimits allows 60 requests per minute with 10 in flight.
func DefaultRateLimits() RateLimits {
	return RateLimits{RequestsPerMinute: 60, MaxConcurrent: 10}
}

func (l RateLimits) withDefaults() RateLimits {
	def := DefaultRateLimits()
	if l.RequestsPerMinute <= 0 {
		l.RequestsPerMinute = def.RequestsPerMinute
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = def.MaxConcurrent
	}
	return l
}

// clientLimiter enforces a sliding one-minute window and a cap on calls in
// flight for a single client.
type clientLimiter struct {
	limits RateLimits
	now    func() time.Time

	mu       sync.Mutex
	started  []time.Time
	inFlight int
}

func newClientLimiter(limits RateLimits) *clientLimiter {
	return &clientLimiter{limits: limits.withDefaults(), now: time.Now}
}

// acquire admits one call. On success the caller must run release once the
// call is answered; otherwise the returned error is what the caller reports.
func (l *clientLimiter) acquire() (release func(), rpcErr *RPCError) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight >= l.limits.MaxConcurrent {
		return nil, &RPCError{Code: TooManyConcurrent, Message: "too many concurrent requests"}
	}
	now := l.now()
	l.pruneLocked(now)
	if len(l.started) >= l.limits.RequestsPerMinute {
		return nil, &RPCError{Code: RateLimitExceeded, Message: "rate limit exceeded"}
	}

	l.started = append(l.started, now)
	l.inFlight++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.inFlight--
			l.mu.Unlock()
		})
	}, nil
}

// usage returns the calls started in the current window and those in flight.
func (l *clientLimiter) usage() (recent, inFlight int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.started), l.inFlight
}

func (l *clientLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(l.started) && !l.started[i].After(cutoff) {
		i++
	}
	l.started = l.started[i:]
}
