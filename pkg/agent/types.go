package agent

import (
	"context"
	"iter"
)

// InboundMessage is a chat message delivered by a transport.
type InboundMessage struct {
	ChannelID      string                 `json:"channel_id"`
	MessageID      string                 `json:"message_id,omitempty"`
	Text           string                 `json:"text"`
	AgentGenerated bool                   `json:"ai_generated"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// OutboundMessage creates a new message in the channel.
type OutboundMessage struct {
	Text           string `json:"text"`
	AgentGenerated bool   `json:"ai_generated"`
}

// PublishedMessage identifies a message the transport accepted.
type PublishedMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"cid"`
}

// MessageUpdate replaces the full text of an existing message.
type MessageUpdate struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AgentGenerated bool   `json:"ai_generated"`
}

// IndicatorState is the presence state shown next to an assistant message.
type IndicatorState string

const (
	IndicatorThinking IndicatorState = "AI_STATE_THINKING"
	IndicatorCleared  IndicatorState = "AI_STATE_CLEARED"
)

// IndicatorEvent is an out-of-band presence event scoped to one message.
type IndicatorEvent struct {
	State          IndicatorState `json:"ai_state"`
	ConversationID string         `json:"cid"`
	MessageID      string         `json:"message_id"`
}

// InboundHandler receives inbound messages from a transport subscription.
type InboundHandler func(ctx context.Context, msg InboundMessage)

// Transport is the chat side of an agent: one bound channel.
type Transport interface {
	// Subscribe registers handler for inbound messages. The returned func
	// removes the subscription and must be safe to call more than once.
	Subscribe(handler InboundHandler) (unsubscribe func(), err error)

	// PublishMessage creates a new message.
	PublishMessage(ctx context.Context, msg OutboundMessage) (PublishedMessage, error)

	// UpdateMessage overwrites the text of an existing message.
	UpdateMessage(ctx context.Context, update MessageUpdate) error

	// PublishIndicator emits a presence event.
	PublishIndicator(ctx context.Context, event IndicatorEvent) error

	// Disconnect releases the channel binding.
	Disconnect(ctx context.Context) error
}

// Role identifies the author of a seeded conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of model conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// GenerationConfig bounds model output.
type GenerationConfig struct {
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
}

// DefaultGenerationConfig returns the documented defaults.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxOutputTokens: 2048,
		Temperature:     0.7,
	}
}

// SessionConfig describes the model conversation to open.
type SessionConfig struct {
	APIKey     string
	Model      string
	History    []Turn
	Generation GenerationConfig
}

// ModelClient opens model conversations.
type ModelClient interface {
	CreateSession(ctx context.Context, cfg SessionConfig) (ModelSession, error)
	Provider() string
}

// ModelSession is an open model conversation.
type ModelSession interface {
	// StreamReply sends input and yields text chunks. The sequence is lazy,
	// finite and can be ranged over once; an error ends it.
	StreamReply(ctx context.Context, input string) iter.Seq2[string, error]

	// Close releases the conversation. Streams already running are unaffected.
	Close() error
}
