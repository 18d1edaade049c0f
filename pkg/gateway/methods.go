package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harun/scribe/internal/metrics"
	"github.com/harun/scribe/pkg/agent"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethodWithSchema("message.send", messageSendSchema, s.handleMessageSend)
	_ = s.router.RegisterMethodWithSchema("channel.history", channelHistorySchema, s.handleChannelHistory)
	_ = s.router.RegisterMethodWithSchema("channel.subscribe", channelSubscribeSchema, s.handleChannelSubscribe)
	_ = s.router.RegisterMethodWithSchema("channel.unsubscribe", channelSubscribeSchema, s.handleChannelUnsubscribe)
	_ = s.router.RegisterMethod("clients.list", s.handleClientsList)
}

// handleMessageSend stores a user message, announces it and hands it to the
// channel's subscribers.
func (s *Server) handleMessageSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	channelID, _ := params["channel_id"].(string)
	text, _ := params["text"].(string)

	stored, err := s.postMessage(ctx, StoredMessage{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Text:      text,
		SenderID:  ClientIDFromContext(ctx),
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"id":  stored.ID,
		"cid": channelID,
	}, nil
}

// postMessage persists msg, broadcasts message.new and dispatches it to in-process subscribers.
func (s *Server) postMessage(ctx context.Context, msg StoredMessage) (StoredMessage, error) {
	if err := s.store.Insert(ctx, msg); err != nil {
		return StoredMessage{}, err
	}

	s.broadcaster.Publish(ctx, msg.ChannelID, EventMessageNew, MessageEvent{
		ConversationID: msg.ChannelID,
		Message:        msg,
	})

	inbound := agent.InboundMessage{
		ChannelID:      msg.ChannelID,
		MessageID:      msg.ID,
		Text:           msg.Text,
		AgentGenerated: msg.AgentGenerated,
	}
	if msg.SenderID != "" {
		inbound.Metadata = map[string]interface{}{"sender_id": msg.SenderID}
	}
	delivered := s.hub.dispatch(ctx, inbound)

	switch {
	case !agent.Accepts(inbound):
		s.metrics.Inbound("gateway", metrics.DispositionFiltered)
	case delivered == 0:
		s.metrics.Inbound("gateway", metrics.DispositionUnrouted)
	default:
		s.metrics.Inbound("gateway", metrics.DispositionAccepted)
	}

	return msg, nil
}

// handleChannelHistory returns the most recent messages of a channel.
func (s *Server) handleChannelHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	channelID, _ := params["channel_id"].(string)
	limit := 50
	if l, ok := params["limit"].(float64); ok {
		limit = int(l)
	}

	messages, err := s.store.History(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"cid":      channelID,
		"messages": messages,
	}, nil
}

// handleChannelSubscribe starts delivering a channel's events to the calling client.
func (s *Server) handleChannelSubscribe(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	clientID := ClientIDFromContext(ctx)
	if clientID == "" {
		return nil, &RPCError{Code: InvalidRequest, Message: "channel.subscribe requires a websocket connection"}
	}
	channelID, _ := params["channel_id"].(string)
	if !s.clients.Subscribe(clientID, channelID) {
		return nil, fmt.Errorf("client %s is not connected", clientID)
	}
	return map[string]interface{}{"cid": channelID, "subscribed": true}, nil
}

// handleChannelUnsubscribe stops delivering a channel's events to the calling client.
func (s *Server) handleChannelUnsubscribe(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	clientID := ClientIDFromContext(ctx)
	if clientID == "" {
		return nil, &RPCError{Code: InvalidRequest, Message: "channel.unsubscribe requires a websocket connection"}
	}
	channelID, _ := params["channel_id"].(string)
	s.clients.Unsubscribe(clientID, channelID)
	return map[string]interface{}{"cid": channelID, "subscribed": false}, nil
}

func (s *Server) handleClientsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"clients": s.clients.Snapshot()}, nil
}
