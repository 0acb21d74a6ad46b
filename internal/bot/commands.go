package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/search"
	"github.com/tazhate/worldcal/internal/service"
)

const searchLimit = 10

const helpText = `<b>World calendar</b>

/today · the current day and its notes
/date 1492-3-1 · any other day
/search market · find notes
/calendar · list calendars

<b>GM only</b>
/advance 3 days · move the clock (seconds to years)
/calendar harptos · switch calendars
/note Caravan arrives · add a note to the current day`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.reply(msg, helpText)
	case "today":
		b.cmdShowDay(ctx, msg, b.clock.CurrentDate())
	case "date":
		b.cmdDate(ctx, msg, args)
	case "advance":
		b.cmdAdvance(ctx, msg, args)
	case "calendar":
		b.cmdCalendar(ctx, msg, args)
	case "search":
		b.cmdSearch(ctx, msg, args)
	case "note":
		b.cmdNote(ctx, msg, args)
	default:
		b.reply(msg, "Unknown command. Try /help")
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	_ = b.SendMessage(msg.Chat.ID, text)
}

func (b *Bot) cmdShowDay(ctx context.Context, msg *tgbotapi.Message, d domain.CalendarDate) {
	text, err := b.dayView(b.viewContext(ctx, msg.Chat), d)
	if err != nil {
		b.reply(msg, errorText(err))
		return
	}
	kb := dayKeyboard(b.notes.Calendar(), d, service.ActorFrom(ctx).IsGM())
	_ = b.SendMessageWithKeyboard(msg.Chat.ID, text, kb)
}

func (b *Bot) cmdDate(ctx context.Context, msg *tgbotapi.Message, args string) {
	if args == "" {
		b.reply(msg, "Usage: /date 1492-3-1")
		return
	}
	d, err := domain.ParseKey(args)
	if err != nil {
		b.reply(msg, errorText(err))
		return
	}
	b.cmdShowDay(ctx, msg, d)
}

func (b *Bot) cmdAdvance(ctx context.Context, msg *tgbotapi.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		b.reply(msg, "Usage: /advance 3 days")
		return
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		b.reply(msg, "❌ Amount must be a whole number")
		return
	}
	unit := "days"
	if len(fields) == 2 {
		unit = fields[1]
	}
	d, err := b.clock.Advance(ctx, unit, n)
	if err != nil {
		b.reply(msg, errorText(err))
		return
	}
	b.reply(msg, fmt.Sprintf("⏩ It is now <b>%s</b> %02d:%02d", escape(b.formatDate(d)), d.Time.Hour, d.Time.Minute))
}

func (b *Bot) cmdCalendar(ctx context.Context, msg *tgbotapi.Message, args string) {
	if args != "" {
		if err := b.clock.SetActiveCalendar(ctx, args); err != nil {
			b.reply(msg, errorText(err))
			return
		}
		b.reply(msg, "🗓 Active calendar: <b>"+escape(b.clock.ActiveCalendar().Name)+"</b>")
		return
	}

	active := b.clock.ActiveCalendar().ID
	var sb strings.Builder
	sb.WriteString("🗓 <b>Calendars</b>\n\n")
	for _, def := range b.clock.AllCalendars() {
		marker := "•"
		if def.ID == active {
			marker = "▸"
		}
		fmt.Fprintf(&sb, "%s <code>%s</code> %s\n", marker, escape(def.ID), escape(def.Name))
	}
	b.reply(msg, sb.String())
}

func (b *Bot) cmdSearch(ctx context.Context, msg *tgbotapi.Message, args string) {
	if args == "" {
		b.reply(msg, "Usage: /search caravan")
		return
	}
	res, err := b.notes.Search(b.viewContext(ctx, msg.Chat), search.Criteria{Query: args, Limit: searchLimit})
	if err != nil {
		b.reply(msg, errorText(err))
		return
	}
	if len(res.Items) == 0 {
		b.reply(msg, "🔍 Nothing found for <b>"+escape(args)+"</b>")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 <b>%d found</b>\n\n", res.TotalCount)
	for _, it := range res.Items {
		fmt.Fprintf(&sb, "• <b>%s</b> · %s\n", escape(it.Note.Title), escape(b.formatDate(it.Date)))
	}
	if res.TotalCount > len(res.Items) {
		fmt.Fprintf(&sb, "\n<i>showing the first %d</i>", len(res.Items))
	}
	b.reply(msg, sb.String())
}

func (b *Bot) cmdNote(ctx context.Context, msg *tgbotapi.Message, args string) {
	if args == "" {
		b.reply(msg, "Usage: /note Caravan arrives")
		return
	}
	n, err := b.notes.CreateNote(ctx, service.NoteInput{
		Title:         args,
		StartDate:     b.clock.CurrentDate().StartOfDay(),
		AllDay:        true,
		PlayerVisible: true,
	})
	if err != nil {
		b.reply(msg, errorText(err))
		return
	}
	b.reply(msg, fmt.Sprintf("➕ <b>%s</b> added to %s", escape(n.Title), escape(b.formatDate(n.StartDate))))
}
