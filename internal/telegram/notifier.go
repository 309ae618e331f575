package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen is Telegram's limit for a text message.
const maxMessageLen = 4096

// Notifier posts operator alerts to a Telegram chat.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

func NewNotifier(api *tgbotapi.BotAPI, chatID int64, log *slog.Logger) *Notifier {
	return &Notifier{
		api:    api,
		chatID: chatID,
		log:    log.With("component", "telegram"),
	}
}

// Alert sends text to the alert chat. The bot API client has no context
// support, so ctx is only checked before sending.
func (n *Notifier) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runes := []rune(text)
	if len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen-1]) + "…"
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.log.Error("send alert", "chat_id", n.chatID, "err", err)
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}
