package daemon

import (
	"context"

	"github.com/harun/scribe/internal/telegram"
	"github.com/harun/scribe/pkg/agent"
	"github.com/harun/scribe/pkg/channels"
	"github.com/harun/scribe/pkg/gateway"
)

const (
	gatewayChannelName  = "gateway"
	telegramChannelName = "telegram"
)

var (
	_ channels.Channel = (*gatewayChannel)(nil)
	_ channels.Channel = (*telegramChannel)(nil)
)

// gatewayChannel owns every channel id without a registered prefix.
type gatewayChannel struct {
	server *gateway.Server
}

func (c *gatewayChannel) Name() string {
	return gatewayChannelName
}

func (c *gatewayChannel) Start(_ context.Context) error {
	return c.server.Start()
}

func (c *gatewayChannel) Stop(ctx context.Context) error {
	return c.server.Stop(ctx)
}

func (c *gatewayChannel) Transport(channelID string) (agent.Transport, error) {
	return c.server.Channel(channelID), nil
}

// telegramChannel owns "telegram:<chat id>" channel ids.
type telegramChannel struct {
	bot *telegram.Bot
}

func (c *telegramChannel) Name() string {
	return telegramChannelName
}

func (c *telegramChannel) Start(_ context.Context) error {
	return c.bot.Start()
}

func (c *telegramChannel) Stop(_ context.Context) error {
	if !c.bot.IsRunning() {
		return nil
	}
	return c.bot.Stop()
}

func (c *telegramChannel) Transport(channelID string) (agent.Transport, error) {
	chatID, err := telegram.ParseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	return c.bot.Chat(chatID), nil
}
