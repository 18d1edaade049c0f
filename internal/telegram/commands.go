package telegram

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	startText = "Hi! I'm a writing assistant. Send me a message and I'll reply as I write."
	helpText  = "Send any text and I'll answer in this chat.\n\n/start - introduction\n/help - this message"
)

// Command is a slash command the bot answers itself instead of passing the
// message to an agent.
type Command struct {
	Name        string
	Description string
	Run         func(Invocation) error
}

// Invocation is one use of a command.
type Invocation struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Name      string
	Args      []string
	RawArgs   string
}

// Commands holds the bot's slash commands.
type Commands struct {
	bot    *Bot
	logger zerolog.Logger

	mu     sync.RWMutex
	byName map[string]Command
}

func newCommands(bot *Bot) *Commands {
	c := &Commands{
		bot:    bot,
		logger: bot.logger.With().Str("module", "commands").Logger(),
		byName: make(map[string]Command),
	}
	for _, builtin := range []Command{
		{Name: "start", Description: "Introduction", Run: c.replyWith(startText)},
		{Name: "help", Description: "How to use this bot", Run: c.replyWith(helpText)},
	} {
		c.byName[builtin.Name] = builtin
	}
	return c
}

func (c *Commands) replyWith(text string) func(Invocation) error {
	return func(inv Invocation) error {
		return c.Reply(inv, text)
	}
}

// Add installs cmd, replacing any command with the same name.
func (c *Commands) Add(cmd Command) error {
	if cmd.Name == "" || strings.ContainsAny(cmd.Name, " /@") {
		return fmt.Errorf("invalid command name %q", cmd.Name)
	}
	if cmd.Run == nil {
		return fmt.Errorf("command /%s has no handler", cmd.Name)
	}

	c.mu.Lock()
	c.byName[cmd.Name] = cmd
	c.mu.Unlock()
	return nil
}

// Remove uninstalls the named command.
func (c *Commands) Remove(name string) {
	c.mu.Lock()
	delete(c.byName, name)
	c.mu.Unlock()
}

// List returns the commands in the form Telegram's menu expects, by name.
func (c *Commands) List() []tgbotapi.BotCommand {
	c.mu.RLock()
	list := make([]tgbotapi.BotCommand, 0, len(c.byName))
	for _, cmd := range c.byName {
		list = append(list, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	c.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Command < list[j].Command })
	return list
}

// Publish replaces the bot's command menu with List.
func (c *Commands) Publish() error {
	list := c.List()
	if _, err := c.bot.api.Request(tgbotapi.NewSetMyCommands(list...)); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}
	c.logger.Info().Int("count", len(list)).Msg("Bot commands updated")
	return nil
}

// Dispatch runs the command in update. Anything that is not a command is
// ignored; unknown commands get a short reply.
func (c *Commands) Dispatch(update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return nil
	}

	inv := Invocation{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Name:      msg.Command(),
		RawArgs:   msg.CommandArguments(),
	}
	inv.Args = strings.Fields(inv.RawArgs)
	if msg.From != nil {
		inv.UserID = msg.From.ID
		inv.Username = msg.From.UserName
	}

	c.mu.RLock()
	cmd, ok := c.byName[inv.Name]
	c.mu.RUnlock()

	c.logger.Debug().
		Int64("chat_id", inv.ChatID).
		Str("command", inv.Name).
		Bool("known", ok).
		Msg("Command received")

	if !ok {
		return c.Reply(inv, "Unknown command: /"+inv.Name)
	}
	return cmd.Run(inv)
}

// Reply answers inv in its chat, quoting the command message.
func (c *Commands) Reply(inv Invocation, text string) error {
	return c.bot.SendMessageWithReply(inv.ChatID, text, inv.MessageID)
}
