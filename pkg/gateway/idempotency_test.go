package gateway

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_ConcurrentDuplicatesRunOnce(t *testing.T) {
	cache := newIdempotencyCache(time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})
	call := func() RPCResponse {
		calls.Add(1)
		<-release
		return RPCResponse{JSONRPC: "2.0", Result: "posted"}
	}

	var wg sync.WaitGroup
	results := make([]RPCResponse, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.do("message.send:retry-1", call)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, res := range results {
		assert.Equal(t, "posted", res.Result)
	}
}

func TestIdempotencyCache_Expiry(t *testing.T) {
	cache := newIdempotencyCache(time.Minute)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	calls := 0
	call := func() RPCResponse {
		calls++
		return RPCResponse{Result: calls}
	}

	assert.Equal(t, 1, cache.do("k", call).Result)
	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, cache.do("k", call).Result)
	now = now.Add(31 * time.Second)
	assert.Equal(t, 2, cache.do("k", call).Result)
	assert.Equal(t, 1, cache.size())

	assert.Equal(t, 3, cache.do("", call).Result)
	assert.Equal(t, 4, cache.do("", call).Result)
}

func TestIdempotencyCache_ErrorsAreCopied(t *testing.T) {
	cache := newIdempotencyCache(time.Minute)

	first := cache.do("k", func() RPCResponse {
		return *errorResponse("1", InternalError, "boom")
	})
	first.Error.Message = "mutated"

	second := cache.do("k", func() RPCResponse { return RPCResponse{} })
	require.NotNil(t, second.Error)
	assert.Equal(t, "boom", second.Error.Message)
}
