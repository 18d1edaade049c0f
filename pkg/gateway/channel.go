package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/scribe/pkg/agent"
)

// ErrChannelMismatch is returned when a transport touches a message of another channel.
var ErrChannelMismatch = errors.New("message belongs to another channel")

// MessageEvent is the payload of message.new and message.updated.
type MessageEvent struct {
	ConversationID string        `json:"cid"`
	Message        StoredMessage `json:"message"`
}

// IndicatorPayload is the payload of ai_indicator.update and ai_indicator.clear.
type IndicatorPayload struct {
	State          agent.IndicatorState `json:"ai_state,omitempty"`
	ConversationID string               `json:"cid"`
	MessageID      string               `json:"message_id"`
}

// channelHub routes new channel messages to in-process subscribers.
type channelHub struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]agent.InboundHandler
}

func newChannelHub() *channelHub {
	return &channelHub{handlers: make(map[string]map[uint64]agent.InboundHandler)}
}

func (h *channelHub) add(channelID string, handler agent.InboundHandler) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.handlers[channelID] == nil {
		h.handlers[channelID] = make(map[uint64]agent.InboundHandler)
	}
	h.handlers[channelID][id] = handler
	return id
}

func (h *channelHub) remove(channelID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.handlers[channelID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.handlers, channelID)
		}
	}
}

func (h *channelHub) count(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[channelID])
}

// dispatch delivers msg to every subscriber of its channel and returns how many received it.
func (h *channelHub) dispatch(ctx context.Context, msg agent.InboundMessage) int {
	h.mu.RLock()
	handlers := make([]agent.InboundHandler, 0, len(h.handlers[msg.ChannelID]))
	for _, handler := range h.handlers[msg.ChannelID] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, msg)
	}
	return len(handlers)
}

// ChannelTransport binds one gateway channel to an agent.
type ChannelTransport struct {
	server    *Server
	channelID string

	mu   sync.Mutex
	subs map[uint64]struct{}
}

// Channel returns a transport for channelID. Each call returns an independent binding.
func (s *Server) Channel(channelID string) *ChannelTransport {
	return &ChannelTransport{
		server:    s,
		channelID: channelID,
		subs:      make(map[uint64]struct{}),
	}
}

// ChannelID returns the bound channel.
func (t *ChannelTransport) ChannelID() string {
	return t.channelID
}

// Subscribe registers handler for every new message on the channel, including
// the agent's own messages.
func (t *ChannelTransport) Subscribe(handler agent.InboundHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	id := t.server.hub.add(t.channelID, handler)

	t.mu.Lock()
	t.subs[id] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.drop(id) })
	}, nil
}

func (t *ChannelTransport) drop(id uint64) {
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
	t.server.hub.remove(t.channelID, id)
}

// PublishMessage stores a new message and announces it with message.new.
func (t *ChannelTransport) PublishMessage(ctx context.Context, msg agent.OutboundMessage) (agent.PublishedMessage, error) {
	stored, err := t.server.postMessage(ctx, StoredMessage{
		ID:             uuid.NewString(),
		ChannelID:      t.channelID,
		Text:           msg.Text,
		AgentGenerated: msg.AgentGenerated,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return agent.PublishedMessage{}, err
	}
	return agent.PublishedMessage{ID: stored.ID, ConversationID: t.channelID}, nil
}

// UpdateMessage replaces the message text and announces it with message.updated.
func (t *ChannelTransport) UpdateMessage(ctx context.Context, update agent.MessageUpdate) error {
	current, err := t.server.store.Get(ctx, update.ID)
	if err != nil {
		return err
	}
	if current.ChannelID != t.channelID {
		return fmt.Errorf("%w: %s", ErrChannelMismatch, update.ID)
	}

	stored, err := t.server.store.UpdateText(ctx, update.ID, update.Text)
	if err != nil {
		return err
	}
	t.server.broadcaster.Publish(ctx, t.channelID, EventMessageUpdated, MessageEvent{
		ConversationID: t.channelID,
		Message:        stored,
	})
	return nil
}

// PublishIndicator emits ai_indicator.update for THINKING and ai_indicator.clear for CLEARED.
func (t *ChannelTransport) PublishIndicator(ctx context.Context, event agent.IndicatorEvent) error {
	cid := event.ConversationID
	if cid == "" {
		cid = t.channelID
	}
	switch event.State {
	case agent.IndicatorThinking:
		t.server.broadcaster.Publish(ctx, t.channelID, EventIndicatorUpdate, IndicatorPayload{
			State:          event.State,
			ConversationID: cid,
			MessageID:      event.MessageID,
		})
	case agent.IndicatorCleared:
		t.server.broadcaster.Publish(ctx, t.channelID, EventIndicatorClear, IndicatorPayload{
			ConversationID: cid,
			MessageID:      event.MessageID,
		})
	default:
		return fmt.Errorf("unknown indicator state: %s", event.State)
	}
	return nil
}

// Disconnect removes every subscription made through this transport.
func (t *ChannelTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	t.subs = make(map[uint64]struct{})
	t.mu.Unlock()

	for _, id := range ids {
		t.server.hub.remove(t.channelID, id)
	}
	return nil
}
