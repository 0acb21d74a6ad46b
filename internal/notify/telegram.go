// Package notify delivers note notifications outside the process.
package notify

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/service"
)

// Sender is the part of the bot API used for messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts notifications into one chat.
type Telegram struct {
	api    Sender
	chatID int64
}

// NewTelegramWithSender posts through an authorised bot client.
func NewTelegramWithSender(api Sender, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, n service.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, Render(n))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Render formats a notification as Telegram HTML. The body is already HTML.
func Render(n service.Notification) string {
	return fmt.Sprintf("📅 <b>%s</b>\n\n%s", html.EscapeString(n.Title), n.Body)
}

// Log writes notifications to the log when no chat is configured.
type Log struct{}

func (Log) Notify(_ context.Context, n service.Notification) error {
	appLog.Info("notification", "title", n.Title, "notes", len(n.NoteIDs))
	return nil
}
