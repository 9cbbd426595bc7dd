package gateway

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultIdempotencyTTL is how long a successful response is replayed for a repeated key.
const DefaultIdempotencyTTL = 5 * time.Minute

// replayCache answers repeated idempotency keys. Concurrent calls with the
// same key share one execution; successful responses are then replayed until
// they expire. Failures are never stored, so a retry runs again.
type replayCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]replayEntry
}

type replayEntry struct {
	response RPCResponse
	expires  time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]replayEntry),
	}
}

func replayKey(method, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	return method + ":" + idempotencyKey
}

// do returns the response stored under key or runs fn to produce it. The
// response ID is the caller's own.
func (c *replayCache) do(key, requestID string, fn func() *RPCResponse) *RPCResponse {
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if resp, ok := c.get(key); ok {
			return resp, nil
		}
		resp := *fn()
		if resp.Error == nil {
			c.put(key, resp)
		}
		return resp, nil
	})

	resp := v.(RPCResponse)
	resp.ID = requestID
	return &resp
}

func (c *replayCache) get(key string) (RPCResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return RPCResponse{}, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return RPCResponse{}, false
	}
	return entry.response, true
}

// put stores resp and sweeps expired entries.
func (c *replayCache) put(key string, resp RPCResponse) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = replayEntry{response: resp, expires: now.Add(c.ttl)}
}

func (c *replayCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
