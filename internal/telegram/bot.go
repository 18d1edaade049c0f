package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/scribe/internal/config"
	"github.com/harun/scribe/internal/metrics"
	"github.com/harun/scribe/internal/tracing"
	"github.com/harun/scribe/pkg/agent"
	"github.com/rs/zerolog"
)

// channelPrefix namespaces Telegram chats among agent channel ids.
const channelPrefix = "telegram:"

// botAPI is the part of tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ChatStarter is called for a message from a chat nobody is subscribed to,
// typically to start an agent bound to Bot.Chat(chatID).
type ChatStarter func(ctx context.Context, chatID int64) error

// Bot receives Telegram updates and routes chat messages to subscribed agents.
type Bot struct {
	api     botAPI
	self    tgbotapi.User
	allow   map[int64]struct{}
	logger  zerolog.Logger
	metrics *metrics.Metrics

	commands *Commands
	starter  ChatStarter

	mu       sync.RWMutex
	nextID   uint64
	handlers map[int64]map[uint64]agent.InboundHandler

	editMu       sync.Mutex
	editInterval time.Duration
	lastEdit     map[int64]time.Time

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New authenticates with Telegram and creates a bot.
func New(cfg *config.TelegramConfig, logger zerolog.Logger, m *metrics.Metrics) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := newBot(api, api.Self, cfg.Allowlist, logger, m)
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

func newBot(api botAPI, self tgbotapi.User, allowlist []int64, logger zerolog.Logger, m *metrics.Metrics) *Bot {
	allow := make(map[int64]struct{}, len(allowlist))
	for _, id := range allowlist {
		allow[id] = struct{}{}
	}

	b := &Bot{
		api:      api,
		self:     self,
		allow:    allow,
		logger:   logger.With().Str("component", "telegram").Logger(),
		metrics:  m,
		handlers: make(map[int64]map[uint64]agent.InboundHandler),

		editInterval: MinEditInterval,
		lastEdit:     make(map[int64]time.Time),
	}
	b.commands = newCommands(b)
	return b
}

// SetChatStarter installs the hook run for chats without subscribers.
func (b *Bot) SetChatStarter(starter ChatStarter) {
	b.starter = starter
}

// Commands returns the bot's slash commands.
func (b *Bot) Commands() *Commands {
	return b.commands
}

// Start publishes the command list and begins long polling for updates.
func (b *Bot) Start() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}

	b.logger.Info().Msg("Starting Telegram bot")

	if err := b.commands.Publish(); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to publish bot commands")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.running = true
	b.done = make(chan struct{})
	b.wg.Add(1)
	go b.processUpdates(updates, b.done)

	b.logger.Info().Msg("Telegram bot started")
	return nil
}

// Stop stops polling and waits for the update loop to exit. Agents started
// for chats are not touched.
func (b *Bot) Stop() error {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return fmt.Errorf("bot is not running")
	}
	b.running = false
	close(b.done)
	b.runMu.Unlock()

	b.logger.Info().Msg("Stopping Telegram bot")
	b.api.StopReceivingUpdates()
	b.wg.Wait()
	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// IsRunning returns whether the bot is polling.
func (b *Bot) IsRunning() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

func (b *Bot) processUpdates(updates tgbotapi.UpdatesChannel, done <-chan struct{}) {
	defer b.wg.Done()

	for {
		select {
		case <-done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			ctx := tracing.NewRequestContext(context.Background())
			if err := b.handleUpdate(ctx, update); err != nil {
				b.logger.Error().
					Err(err).
					Int("update_id", update.UpdateID).
					Msg("Failed to handle update")
			}
		}
	}
}

// handleUpdate routes one update: commands to the registry, everything else
// to the chat's subscribers.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID

	if !b.allowed(chatID) {
		b.logger.Debug().Int64("chat_id", chatID).Msg("Ignoring message from chat outside allowlist")
		b.metrics.Inbound("telegram", metrics.DispositionFiltered)
		return nil
	}

	if msg.IsCommand() {
		return b.commands.Dispatch(update)
	}

	inbound := agent.InboundMessage{
		ChannelID:      ChannelID(chatID),
		MessageID:      strconv.Itoa(msg.MessageID),
		Text:           msg.Text,
		AgentGenerated: msg.From != nil && msg.From.ID == b.self.ID,
	}
	if msg.From != nil {
		inbound.Metadata = map[string]interface{}{
			"user_id":  msg.From.ID,
			"username": msg.From.UserName,
		}
	}

	if !agent.Accepts(inbound) {
		b.metrics.Inbound("telegram", metrics.DispositionFiltered)
		return nil
	}

	if b.subscriberCount(chatID) == 0 && b.starter != nil {
		if err := b.starter(ctx, chatID); err != nil {
			b.metrics.Inbound("telegram", metrics.DispositionUnrouted)
			return fmt.Errorf("failed to start agent for chat %d: %w", chatID, err)
		}
	}

	if b.dispatch(ctx, chatID, inbound) == 0 {
		b.metrics.Inbound("telegram", metrics.DispositionUnrouted)
		return nil
	}
	b.metrics.Inbound("telegram", metrics.DispositionAccepted)
	return nil
}

func (b *Bot) allowed(chatID int64) bool {
	if len(b.allow) == 0 {
		return true
	}
	_, ok := b.allow[chatID]
	return ok
}

func (b *Bot) subscribe(chatID int64, handler agent.InboundHandler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[chatID] == nil {
		b.handlers[chatID] = make(map[uint64]agent.InboundHandler)
	}
	b.handlers[chatID][id] = handler
	return id
}

func (b *Bot) unsubscribe(chatID int64, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.handlers[chatID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.handlers, chatID)
		}
	}
}

func (b *Bot) subscriberCount(chatID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[chatID])
}

func (b *Bot) dispatch(ctx context.Context, chatID int64, msg agent.InboundMessage) int {
	b.mu.RLock()
	handlers := make([]agent.InboundHandler, 0, len(b.handlers[chatID]))
	for _, handler := range b.handlers[chatID] {
		handlers = append(handlers, handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, msg)
	}
	return len(handlers)
}

// SendMessageWithReply sends a text message as a reply
func (b *Bot) SendMessageWithReply(chatID int64, text string, replyToMessageID int) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMessageID

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("reply_to", replyToMessageID).
		Msg("Reply sent")
	return nil
}

// ChannelID returns the agent channel id of a Telegram chat.
func ChannelID(chatID int64) string {
	return channelPrefix + strconv.FormatInt(chatID, 10)
}

// ParseChannelID reverses ChannelID.
func ParseChannelID(channelID string) (int64, error) {
	raw, ok := strings.CutPrefix(channelID, channelPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram channel: %q", channelID)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", raw, err)
	}
	return chatID, nil
}
