package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/worldcal/internal/domain"
	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/service"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != b.chatID || msg.From == nil {
		return
	}
	if !msg.IsCommand() {
		return
	}
	b.handleCommand(b.actorContext(ctx, msg.From), msg)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != b.chatID || cb.From == nil {
		return
	}
	ctx = b.actorContext(ctx, cb.From)

	var (
		d      domain.CalendarDate
		answer string
		err    error
	)
	parts := strings.SplitN(cb.Data, ":", 3)
	switch parts[0] {
	case "day":
		if len(parts) < 2 {
			b.answer(cb, "❌ Bad button")
			return
		}
		d, err = domain.ParseKey(strings.Join(parts[1:], ":"))
	case "today":
		d = b.clock.CurrentDate()
	case "adv":
		if len(parts) != 3 {
			b.answer(cb, "❌ Bad button")
			return
		}
		var n int64
		if n, err = strconv.ParseInt(parts[2], 10, 64); err == nil {
			d, err = b.clock.Advance(ctx, parts[1], n)
		}
		if err == nil {
			answer = "⏩ " + b.formatDate(d)
		}
	default:
		b.answer(cb, "")
		return
	}
	if err != nil {
		b.answer(cb, plain(errorText(err)))
		return
	}

	text, err := b.dayView(b.viewContext(ctx, cb.Message.Chat), d)
	if err != nil {
		b.answer(cb, plain(errorText(err)))
		return
	}
	kb := dayKeyboard(b.notes.Calendar(), d, service.ActorFrom(ctx).IsGM())
	if err := b.editMessage(cb.Message.Chat.ID, cb.Message.MessageID, text, kb); err != nil {
		appLog.Error("edit day view", err, "date", d.Key())
	}
	b.answer(cb, answer)
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		appLog.Warn("answer callback", "error", err.Error())
	}
}

// actorContext resolves the Telegram user against the player list.
func (b *Bot) actorContext(ctx context.Context, from *tgbotapi.User) context.Context {
	name := from.UserName
	if name == "" {
		name = from.FirstName
	}
	return service.WithActor(ctx, b.actors.Resolve(name))
}

// viewContext is the context views render under. Only a private chat shows
// the sender's own view; group chats always get the players' view.
func (b *Bot) viewContext(ctx context.Context, chat *tgbotapi.Chat) context.Context {
	if chat != nil && chat.IsPrivate() {
		return ctx
	}
	return b.playerContext(ctx)
}

// dayView renders the notes of one day as chat HTML.
func (b *Bot) dayView(ctx context.Context, d domain.CalendarDate) (string, error) {
	e := b.notes.Calendar()
	day, err := e.Complete(d.StartOfDay())
	if err != nil {
		return "", err
	}
	notes, err := b.notes.GetNotesForDate(ctx, day)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("📅 <b>")
	sb.WriteString(escape(b.formatDate(day)))
	sb.WriteString("</b>")
	def := e.Calendar()
	if !day.IsIntercalary() && day.Weekday >= 0 && day.Weekday < len(def.Weekdays) {
		sb.WriteString(" · ")
		sb.WriteString(escape(def.Weekdays[day.Weekday].Name))
	}
	if now := b.clock.CurrentDate(); now.SameDay(day) {
		fmt.Fprintf(&sb, "\n🕰 %02d:%02d", now.Time.Hour, now.Time.Minute)
	}
	sb.WriteString("\n\n")
	if len(notes) == 0 {
		sb.WriteString("<i>No notes</i>")
	} else {
		sb.WriteString(service.FormatNoteList(notes))
	}
	return sb.String(), nil
}

func (b *Bot) formatDate(d domain.CalendarDate) string {
	e := b.notes.Calendar()
	return service.FormatDay(e.Calendar(), d) + ", " + e.FormatYear(d.Year)
}

// errorText turns a service error into a reply.
func errorText(err error) string {
	switch domain.KindOf(err) {
	case domain.KindPermissionDenied:
		return "⛔ Only the GM can do that"
	case domain.KindNotFound, domain.KindInvalid, domain.KindRange, domain.KindResourceExceeded:
		return "❌ " + escape(err.Error())
	}
	appLog.Error("bot request", err)
	return "❌ Something went wrong"
}

func escape(s string) string { return html.EscapeString(s) }

// plain drops HTML escaping for callback answers, which are not parsed.
func plain(s string) string { return html.UnescapeString(s) }
