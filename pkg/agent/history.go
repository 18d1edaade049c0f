package agent

import (
	"errors"
	"sync"
)

var errSessionClosed = errors.New("model session is closed")

// conversation is the turn log shared by the provider sessions. A reply is
// committed only after its stream ends cleanly, so concurrent streams each see
// the history as it was when they started.
type conversation struct {
	mu     sync.Mutex
	turns  []Turn
	closed bool
}

func newConversation(seed []Turn) *conversation {
	turns := make([]Turn, len(seed))
	copy(turns, seed)
	return &conversation{turns: turns}
}

func (c *conversation) snapshot() ([]Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errSessionClosed
	}
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out, nil
}

func (c *conversation) commit(input, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns,
		Turn{Role: RoleUser, Text: input},
		Turn{Role: RoleModel, Text: reply},
	)
}

func (c *conversation) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func (c *conversation) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
