package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/scribe/internal/tracing"
	"github.com/rs/zerolog"
)

// EventBroadcaster stamps events with a sequence number and the trace ids of
// their context, then writes them to websocket clients.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Broadcast sends a server-wide event to every authenticated client.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.deliver(b.stamp(context.Background(), "", event, data), b.clients.Authenticated())
}

// Publish sends a channel event to its subscribers and returns how many
// received it.
func (b *EventBroadcaster) Publish(ctx context.Context, channelID, event string, data interface{}) int {
	return b.deliver(b.stamp(ctx, channelID, event, data), b.clients.Subscribers(channelID))
}

func (b *EventBroadcaster) stamp(ctx context.Context, channelID, event string, data interface{}) EventMessage {
	ids := tracing.FromContext(ctx)
	return EventMessage{
		Type:      "event",
		Event:     event,
		ChannelID: channelID,
		Seq:       b.seq.Add(1),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		TraceID:   ids.TraceID,
		RunID:     ids.RunID,
	}
}

func (b *EventBroadcaster) deliver(msg EventMessage, targets []*Client) int {
	log := b.logger.With().
		Str("event", msg.Event).
		Str("channel_id", msg.ChannelID).
		Int64("seq", msg.Seq).
		Logger()

	if len(targets) == 0 {
		log.Debug().Msg("No subscribers for event")
		return 0
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return 0
	}

	sent := 0
	for _, c := range targets {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Warn().Err(err).Str("clientId", c.ID).Msg("Failed to deliver event")
			continue
		}
		sent++
	}

	log.Debug().Int("delivered", sent).Int("failed", len(targets)-sent).Msg("Event delivered")
	return sent
}
