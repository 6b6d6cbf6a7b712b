package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxTelegramMessage = 4096

type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramOpts holds parameters for creating a Telegram notifier.
type TelegramOpts struct {
	BotToken string
	ChatID   int64
	// For testing: inject a mock bot.
	Bot telegramBot
}

// Telegram sends notifications as plain chat messages.
type Telegram struct {
	bot    telegramBot
	chatID int64
}

// NewTelegram creates a Telegram notifier. Without an injected bot it
// calls getMe to validate the token.
func NewTelegram(opts TelegramOpts) (*Telegram, error) {
	if opts.ChatID == 0 {
		return nil, fmt.Errorf("notify: telegram: chat id is required")
	}
	bot := opts.Bot
	if bot == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("notify: telegram: bot token is required")
		}
		api, err := tgbotapi.NewBotAPI(opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: telegram: create bot: %w", err)
		}
		bot = api
	}
	return &Telegram{bot: bot, chatID: opts.ChatID}, nil
}

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := []rune(PlainText(n))
	if len(text) > maxTelegramMessage {
		text = text[:maxTelegramMessage]
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, string(text))); err != nil {
		return fmt.Errorf("notify: telegram: send: %w", err)
	}
	return nil
}
