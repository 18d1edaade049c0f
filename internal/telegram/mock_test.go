package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/scribe/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

type mockBotAPI struct {
	mock.Mock
}

func (m *mockBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	msg, _ := args.Get(0).(tgbotapi.Message)
	return msg, args.Error(1)
}

func (m *mockBotAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	resp, _ := args.Get(0).(*tgbotapi.APIResponse)
	return resp, args.Error(1)
}

func (m *mockBotAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	args := m.Called(config)
	return args.Get(0).(tgbotapi.UpdatesChannel)
}

func (m *mockBotAPI) StopReceivingUpdates() {
	m.Called()
}

var testSelf = tgbotapi.User{ID: 999, IsBot: true, UserName: "scribe_bot"}

func createTestBot(t *testing.T, api *mockBotAPI, allowlist ...int64) *Bot {
	t.Helper()
	return newBot(api, testSelf, allowlist, zerolog.Nop(), metrics.NewMetrics())
}

func textUpdate(chatID int64, fromID int64, messageID int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: messageID,
		Message: &tgbotapi.Message{
			MessageID: messageID,
			From:      &tgbotapi.User{ID: fromID, UserName: "writer"},
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "private"},
			Text:      text,
		},
	}
}

func commandUpdate(chatID int64, messageID int, text string) tgbotapi.Update {
	update := textUpdate(chatID, 1, messageID, text)
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}
	update.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return update
}

func sentText(chatID int64, text string) interface{} {
	return mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
		return c.ChatID == chatID && c.Text == text
	})
}

func editedText(chatID int64, messageID int, text string) interface{} {
	return mock.MatchedBy(func(c tgbotapi.EditMessageTextConfig) bool {
		return c.ChatID == chatID && c.MessageID == messageID && c.Text == text
	})
}
