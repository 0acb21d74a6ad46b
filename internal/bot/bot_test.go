package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/calendar/calendartest"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/events"
	"github.com/tazhate/worldcal/internal/registry"
	"github.com/tazhate/worldcal/internal/service"
	"github.com/tazhate/worldcal/internal/storage"
)

const chatID int64 = 42

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

// texts returns the text of every message and edit sent so far.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) last(t *testing.T) string {
	t.Helper()
	texts := f.texts()
	if len(texts) == 0 {
		t.Fatal("nothing sent")
	}
	return texts[len(texts)-1]
}

type fixture struct {
	bot   *Bot
	api   *fakeAPI
	notes *service.NotesService
	clock *service.TimeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.New(filepath.Join(t.TempDir(), "worldcal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	greg := calendartest.Gregorian(t)
	notes := service.NewNotesService(db, greg)
	clock, err := service.NewTimeService(db, []*calendar.Engine{greg, calendartest.Harptos(t)},
		service.WithCalendarListener(notes))
	if err != nil {
		t.Fatal(err)
	}
	if err := clock.Load(ctx, "gregorian"); err != nil {
		t.Fatal(err)
	}

	for _, in := range []service.NoteInput{
		{Title: "Market", StartDate: calendartest.Date(t, greg, 1970, 1, 1), AllDay: true, PlayerVisible: true},
		{Title: "Ambush", StartDate: calendartest.Date(t, greg, 1970, 1, 1), AllDay: true},
	} {
		if _, err := notes.CreateNote(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	api := &fakeAPI{}
	b := NewWithAPI(api, chatID, service.NewActorResolver([]string{"alice"}), notes, clock, registry.New())
	return &fixture{bot: b, api: api, notes: notes, clock: clock}
}

func command(text, user, chatType string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID, Type: chatType},
		From:     &tgbotapi.User{UserName: user},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func TestTodayDependsOnAudience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleUpdate(ctx, command("/today", "dm", "private"))
	got := f.api.last(t)
	for _, want := range []string{"1 January, 1970", "Thursday", "Market", "Ambush"} {
		if !strings.Contains(got, want) {
			t.Errorf("private view missing %q:\n%s", want, got)
		}
	}

	f.bot.handleUpdate(ctx, command("/today", "dm", "group"))
	got = f.api.last(t)
	if !strings.Contains(got, "Market") || strings.Contains(got, "Ambush") {
		t.Errorf("group view leaks hidden notes:\n%s", got)
	}
}

func TestIgnoresOtherChats(t *testing.T) {
	f := newFixture(t)
	u := command("/today", "dm", "private")
	u.Message.Chat.ID = 7
	f.bot.handleUpdate(context.Background(), u)
	if n := len(f.api.texts()); n != 0 {
		t.Fatalf("sent %d messages to a foreign chat", n)
	}
}

func TestAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleUpdate(ctx, command("/advance 2 days", "dm", "private"))
	if got := f.clock.CurrentDate().Key(); got != "1970-1-3" {
		t.Fatalf("date = %s, want 1970-1-3", got)
	}
	if got := f.api.last(t); !strings.Contains(got, "3 January, 1970") {
		t.Errorf("reply = %q", got)
	}

	f.bot.handleUpdate(ctx, command("/advance 1 day", "alice", "group"))
	if got := f.api.last(t); !strings.Contains(got, "Only the GM") {
		t.Errorf("player reply = %q", got)
	}
	if got := f.clock.CurrentDate().Key(); got != "1970-1-3" {
		t.Fatalf("player moved the clock to %s", got)
	}

	f.bot.handleUpdate(ctx, command("/advance 1 fortnight", "dm", "private"))
	if got := f.api.last(t); !strings.HasPrefix(got, "❌") {
		t.Errorf("bad unit reply = %q", got)
	}
}

func TestCallbackNavigatesDays(t *testing.T) {
	f := newFixture(t)
	cb := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{UserName: "alice"},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: chatID, Type: "group"}},
		Data:    "day:1970-1-2",
	}}
	f.bot.handleUpdate(context.Background(), cb)

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	if len(f.api.sent) != 1 {
		t.Fatalf("sent = %d", len(f.api.sent))
	}
	edit, ok := f.api.sent[0].(tgbotapi.EditMessageTextConfig)
	if !ok {
		t.Fatalf("sent %T, want an edit", f.api.sent[0])
	}
	if edit.MessageID != 9 || !strings.Contains(edit.Text, "2 January, 1970") || !strings.Contains(edit.Text, "No notes") {
		t.Errorf("edit = %+v", edit)
	}
	if edit.ReplyMarkup == nil || len(edit.ReplyMarkup.InlineKeyboard) != 1 {
		t.Errorf("player keyboard = %+v", edit.ReplyMarkup)
	}
	if len(f.api.requests) != 1 {
		t.Fatalf("callback not answered")
	}
	if _, ok := f.api.requests[0].(tgbotapi.CallbackConfig); !ok {
		t.Errorf("request = %T", f.api.requests[0])
	}
}

func TestCallbackAdvance(t *testing.T) {
	f := newFixture(t)
	cb := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb2",
		From:    &tgbotapi.User{UserName: "dm"},
		Message: &tgbotapi.Message{MessageID: 3, Chat: &tgbotapi.Chat{ID: chatID, Type: "private"}},
		Data:    "adv:hour:5",
	}}
	f.bot.handleUpdate(context.Background(), cb)

	if got := f.clock.CurrentDate().Time.Hour; got != 5 {
		t.Fatalf("hour = %d, want 5", got)
	}
	if got := f.api.last(t); !strings.Contains(got, "05:00") {
		t.Errorf("view = %q", got)
	}
}

func TestSearchAndNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleUpdate(ctx, command("/search market", "alice", "group"))
	if got := f.api.last(t); !strings.Contains(got, "Market") {
		t.Errorf("search reply = %q", got)
	}
	f.bot.handleUpdate(ctx, command("/search ambush", "alice", "group"))
	if got := f.api.last(t); !strings.Contains(got, "Nothing found") {
		t.Errorf("hidden note found by a player: %q", got)
	}

	f.bot.handleUpdate(ctx, command("/note Caravan arrives", "dm", "private"))
	if f.notes.Len() != 3 {
		t.Fatalf("notes = %d, want 3", f.notes.Len())
	}
	f.bot.handleUpdate(ctx, command("/note Sneaky", "alice", "group"))
	if f.notes.Len() != 3 {
		t.Fatal("player created a note")
	}
}

func TestCalendarCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleUpdate(ctx, command("/calendar", "alice", "group"))
	got := f.api.last(t)
	if !strings.Contains(got, "▸ <code>gregorian</code>") || !strings.Contains(got, "harptos") {
		t.Errorf("list = %q", got)
	}

	f.bot.handleUpdate(ctx, command("/calendar harptos", "dm", "private"))
	if id := f.clock.ActiveCalendar().ID; id != "harptos" {
		t.Fatalf("active = %s", id)
	}
	f.bot.handleUpdate(ctx, command("/calendar narnia", "dm", "private"))
	if got := f.api.last(t); !strings.HasPrefix(got, "❌") {
		t.Errorf("unknown calendar reply = %q", got)
	}
}

func TestAnnouncesNewDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	greg := f.notes.Calendar()
	prev := calendartest.Date(t, greg, 1969, 12, 31)
	next := calendartest.Date(t, greg, 1970, 1, 1)

	f.bot.handleEvent(ctx, events.Event{Kind: events.DateChanged, Date: &next, Previous: &prev})
	got := f.api.last(t)
	if !strings.Contains(got, "A new day") || !strings.Contains(got, "Market") || strings.Contains(got, "Ambush") {
		t.Errorf("announcement = %q", got)
	}

	later := next
	later.Time = domain.TimeOfDay{Hour: 3}
	f.bot.handleEvent(ctx, events.Event{Kind: events.DateChanged, Date: &later, Previous: &next})
	if n := len(f.api.texts()); n != 1 {
		t.Errorf("announced a change within the day, %d messages", n)
	}
}
