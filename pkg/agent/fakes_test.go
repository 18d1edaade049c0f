package agent

import (
	"context"
	"fmt"
	"iter"
	"sync"
)

type transportCall struct {
	kind string // publish, update, indicator
	text string
	id   string
	ai   bool

	state IndicatorState
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   []transportCall
	nextID  int
	handler InboundHandler

	// publishGate, when set, holds every publish until it is closed.
	publishGate    chan struct{}
	publishStarted chan struct{}

	publishErr   func(n int, msg OutboundMessage) error
	updateErr    func(update MessageUpdate) error
	indicatorErr func(event IndicatorEvent) error
	subscribeErr error

	subscribes   int
	unsubscribes int
	disconnects  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Subscribe(handler InboundHandler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.subscribes++
	f.handler = handler
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.unsubscribes++
			f.handler = nil
			f.mu.Unlock()
		})
	}, nil
}

// deliver simulates an inbound message from the channel.
func (f *fakeTransport) deliver(ctx context.Context, msg InboundMessage) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(ctx, msg)
	return true
}

func (f *fakeTransport) PublishMessage(ctx context.Context, msg OutboundMessage) (PublishedMessage, error) {
	if f.publishGate != nil {
		select {
		case f.publishStarted <- struct{}{}:
		default:
		}
		<-f.publishGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.countLocked("publish")
	if f.publishErr != nil {
		if err := f.publishErr(n, msg); err != nil {
			return PublishedMessage{}, err
		}
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.calls = append(f.calls, transportCall{kind: "publish", text: msg.Text, id: id, ai: msg.AgentGenerated})
	return PublishedMessage{ID: id, ConversationID: "cid-1"}, nil
}

func (f *fakeTransport) UpdateMessage(ctx context.Context, update MessageUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		if err := f.updateErr(update); err != nil {
			return err
		}
	}
	f.calls = append(f.calls, transportCall{kind: "update", text: update.Text, id: update.ID, ai: update.AgentGenerated})
	return nil
}

func (f *fakeTransport) PublishIndicator(ctx context.Context, event IndicatorEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indicatorErr != nil {
		if err := f.indicatorErr(event); err != nil {
			return err
		}
	}
	f.calls = append(f.calls, transportCall{kind: "indicator", id: event.MessageID, state: event.State})
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) countLocked(kind string) int {
	n := 0
	for _, c := range f.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeTransport) snapshot() []transportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transportCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) byKind(kind string) []transportCall {
	var out []transportCall
	for _, c := range f.snapshot() {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) updatesFor(id string) []string {
	var out []string
	for _, c := range f.byKind("update") {
		if c.id == id {
			out = append(out, c.text)
		}
	}
	return out
}

// step is one element of a scripted model stream.
type step struct {
	chunk string
	err   error
}

type fakeSession struct {
	mu      sync.Mutex
	script  func(input string) []step
	gate    chan struct{}
	started chan struct{}
	inputs  []string
	closes  int
	closed  bool
}

func (s *fakeSession) StreamReply(ctx context.Context, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		s.inputs = append(s.inputs, input)
		script := s.script
		gate := s.gate
		started := s.started
		closed := s.closed
		s.mu.Unlock()

		if closed {
			yield("", errSessionClosed)
			return
		}

		if started != nil {
			started <- struct{}{}
		}
		if gate != nil {
			<-gate
		}
		if script == nil {
			return
		}
		for _, st := range script(input) {
			if st.err != nil {
				yield("", st.err)
				return
			}
			if !yield(st.chunk, nil) {
				return
			}
		}
	}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func chunks(parts ...string) func(string) []step {
	return func(string) []step {
		out := make([]step, len(parts))
		for i, p := range parts {
			out[i] = step{chunk: p}
		}
		return out
	}
}

type fakeClient struct {
	mu        sync.Mutex
	session   *fakeSession
	createErr error
	creates   int
	lastCfg   SessionConfig
}

func (c *fakeClient) CreateSession(ctx context.Context, cfg SessionConfig) (ModelSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	c.lastCfg = cfg
	if c.createErr != nil {
		return nil, c.createErr
	}
	if c.session == nil {
		c.session = &fakeSession{}
	}
	return c.session, nil
}

func (c *fakeClient) Provider() string {
	return "fake"
}
