// Package bot is the Telegram surface of the calendar: day views, clock
// control for the GM and announcements when the world day changes.
package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/worldcal/internal/events"
	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/registry"
	"github.com/tazhate/worldcal/internal/service"
)

// SurfaceID is the id the bot registers with the surface registry.
const SurfaceID = "telegram"

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

type Bot struct {
	api      API
	chatID   int64
	notes    *service.NotesService
	clock    *service.TimeService
	actors   *service.ActorResolver
	surfaces *registry.Registry
}

func New(token string, chatID int64, actors *service.ActorResolver, notes *service.NotesService, clock *service.TimeService, surfaces *registry.Registry) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	appLog.Info("telegram authorised", "bot", api.Self.UserName)

	b := NewWithAPI(api, chatID, actors, notes, clock, surfaces)
	b.setCommands()
	return b, nil
}

// NewWithAPI builds a bot on an existing API client.
func NewWithAPI(api API, chatID int64, actors *service.ActorResolver, notes *service.NotesService, clock *service.TimeService, surfaces *registry.Registry) *Bot {
	return &Bot{
		api:      api,
		chatID:   chatID,
		notes:    notes,
		clock:    clock,
		actors:   actors,
		surfaces: surfaces,
	}
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "today", Description: "📅 Current day"},
		{Command: "date", Description: "🔎 Show a day"},
		{Command: "advance", Description: "⏩ Move the clock"},
		{Command: "calendar", Description: "🗓 List or switch calendars"},
		{Command: "search", Description: "🔍 Search notes"},
		{Command: "note", Description: "➕ Note for today"},
		{Command: "help", Description: "❓ Help"},
	}
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		appLog.Warn("set bot commands", "error", err.Error())
	}
}

// Start polls for updates until ctx ends. Day changes reach the chat through
// the surface registry.
func (b *Bot) Start(ctx context.Context) error {
	handle := b.surfaces.Register(SurfaceID)
	defer b.surfaces.Release(handle)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	appLog.Info("telegram bot started", "chat", b.chatID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-handle.Done():
			return nil
		case e := <-handle.Events():
			b.handleEvent(ctx, e)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// API returns the client the bot talks through.
func (b *Bot) API() API { return b.api }

// SendMessage posts HTML text into chatID.
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) editMessage(chatID int64, messageID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard)
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(edit)
	return err
}

func (b *Bot) handleEvent(ctx context.Context, e events.Event) {
	var text string
	switch e.Kind {
	case events.DateChanged:
		if e.Date == nil || (e.Previous != nil && e.Previous.SameDay(*e.Date)) {
			return
		}
		view, err := b.dayView(b.playerContext(ctx), *e.Date)
		if err != nil {
			appLog.Error("render new day", err, "date", e.Date.Key())
			return
		}
		text = "🌅 <b>A new day dawns</b>\n\n" + view
	case events.CalendarChanged:
		text = fmt.Sprintf("🗓 Calendar switched to <b>%s</b>", escape(b.clock.ActiveCalendar().Name))
	default:
		return
	}
	if err := b.SendMessage(b.chatID, text); err != nil {
		appLog.Error("send announcement", err, "kind", string(e.Kind))
	}
}

// playerContext renders for the whole chat, so hidden notes stay hidden.
func (b *Bot) playerContext(ctx context.Context) context.Context {
	return service.WithActor(ctx, service.Actor{Name: SurfaceID, Role: service.RolePlayer})
}
