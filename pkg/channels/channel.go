package channels

import (
	"context"

	"github.com/harun/scribe/pkg/agent"
)

// Channel is a transport runtime (gateway, telegram, ...) that serves many
// conversations and hands out one agent.Transport per conversation.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Transport binds channelID, which may carry this channel's "<name>:" prefix.
	Transport(channelID string) (agent.Transport, error)
}
