package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/scribe/pkg/agent"
)

const (
	// placeholderText stands in for an empty message; Telegram rejects empty text.
	placeholderText = "\u200b"

	// maxMessageLength is Telegram's limit for one text message, counted in
	// UTF-16 code units after entity parsing.
	maxMessageLength = 4096

	truncationMark = "…"
)

// MinEditInterval is the spacing Telegram tolerates between edits in one chat.
const MinEditInterval = time.Second

// ChatTransport binds one Telegram chat to an agent.
type ChatTransport struct {
	bot    *Bot
	chatID int64

	mu   sync.Mutex
	subs map[uint64]struct{}
}

// Chat returns a transport for chatID. Each call returns an independent binding.
func (b *Bot) Chat(chatID int64) *ChatTransport {
	return &ChatTransport{
		bot:    b,
		chatID: chatID,
		subs:   make(map[uint64]struct{}),
	}
}

// ChannelID returns the agent channel id of the chat.
func (t *ChatTransport) ChannelID() string {
	return ChannelID(t.chatID)
}

// Subscribe registers handler for every non-command message in the chat.
func (t *ChatTransport) Subscribe(handler agent.InboundHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	id := t.bot.subscribe(t.chatID, handler)

	t.mu.Lock()
	t.subs[id] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.drop(id) })
	}, nil
}

func (t *ChatTransport) drop(id uint64) {
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
	t.bot.unsubscribe(t.chatID, id)
}

// PublishMessage sends a new message. Empty text is sent as a zero-width placeholder.
func (t *ChatTransport) PublishMessage(ctx context.Context, msg agent.OutboundMessage) (agent.PublishedMessage, error) {
	if err := ctx.Err(); err != nil {
		return agent.PublishedMessage{}, err
	}

	sent, err := t.bot.api.Send(tgbotapi.NewMessage(t.chatID, t.render(msg.Text, "")))
	if err != nil {
		return agent.PublishedMessage{}, fmt.Errorf("failed to send message: %w", apiError(err))
	}

	t.bot.logger.Debug().
		Int64("chat_id", t.chatID).
		Int("message_id", sent.MessageID).
		Msg("Message sent")

	return agent.PublishedMessage{
		ID:             strconv.Itoa(sent.MessageID),
		ConversationID: t.ChannelID(),
	}, nil
}

// UpdateMessage edits a sent message in place.
func (t *ChatTransport) UpdateMessage(ctx context.Context, update agent.MessageUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageID, err := strconv.Atoi(update.ID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", update.ID, err)
	}

	if err := t.bot.reserveEdit(ctx, t.chatID); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(t.chatID, messageID, t.render(update.Text, update.ID))
	if _, err := t.bot.api.Send(edit); err != nil {
		// Telegram refuses edits that leave the text unchanged.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("failed to update message: %w", apiError(err))
	}
	return nil
}

// PublishIndicator shows "typing" for THINKING. Telegram clears the action on
// its own once a message arrives, so CLEARED sends nothing.
func (t *ChatTransport) PublishIndicator(ctx context.Context, event agent.IndicatorEvent) error {
	switch event.State {
	case agent.IndicatorThinking:
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.api.Request(tgbotapi.NewChatAction(t.chatID, tgbotapi.ChatTyping)); err != nil {
			return fmt.Errorf("failed to send chat action: %w", apiError(err))
		}
		return nil
	case agent.IndicatorCleared:
		return nil
	default:
		return fmt.Errorf("unknown indicator state: %s", event.State)
	}
}

// Disconnect removes every subscription made through this transport.
func (t *ChatTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	t.subs = make(map[uint64]struct{})
	t.mu.Unlock()

	for _, id := range ids {
		t.bot.unsubscribe(t.chatID, id)
	}
	return nil
}

func (t *ChatTransport) render(text, messageID string) string {
	out, truncated := renderText(text)
	if truncated {
		t.bot.logger.Warn().
			Int64("chat_id", t.chatID).
			Str("message_id", messageID).
			Int("utf16_length", len(utf16.Encode([]rune(text)))).
			Msg("Reply exceeds Telegram message limit, truncating")
	}
	return out
}

// renderText fits text into one Telegram message and reports whether it cut anything.
func renderText(text string) (string, bool) {
	if text == "" {
		return placeholderText, false
	}

	limit := maxMessageLength - utf16.RuneLen([]rune(truncationMark)[0])
	units, cut := 0, -1
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if cut < 0 && units+n > limit {
			cut = i
		}
		units += n
		if units > maxMessageLength {
			return text[:cut] + truncationMark, true
		}
	}
	return text, false
}

// reserveEdit spaces edits in a chat at least editInterval apart, waiting for
// the next free slot. Concurrent callers queue behind one another.
func (b *Bot) reserveEdit(ctx context.Context, chatID int64) error {
	if b.editInterval <= 0 {
		return nil
	}

	b.editMu.Lock()
	now := time.Now()
	slot := now
	if next := b.lastEdit[chatID].Add(b.editInterval); next.After(now) {
		slot = next
	}
	b.lastEdit[chatID] = slot
	b.editMu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// apiError attaches the Bot API status code so rate limits are classified.
func apiError(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code != 0 {
		return agent.NewAPIError("telegram", tgErr.Code, err)
	}
	return err
}
