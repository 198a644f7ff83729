package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts to one chat through the Bot API.
type Telegram struct {
	api    telegramAPI
	chatID int64
}

// NewTelegram returns nil when no token is configured.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, nil
	}
	if chatID == 0 {
		return nil, errors.New("telegram: chat id is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, title, text string) error {
	if t == nil || t.api == nil {
		return errors.New("telegram disabled")
	}
	msg := tgbotapi.NewMessage(t.chatID, title+"\n\n"+text)
	msg.DisableWebPagePreview = true
	return runCtx(ctx, func() error {
		if _, err := t.api.Send(msg); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	})
}
