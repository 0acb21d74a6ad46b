package caldav

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/calendar/calendartest"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/events"
	"github.com/tazhate/worldcal/internal/storage"
)

type fakeRemote struct {
	mu      sync.Mutex
	objects map[string]*ical.Calendar
	removed []string
	putErr  error
	changed chan string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: make(map[string]*ical.Calendar), changed: make(chan string, 16)}
}

func (f *fakeRemote) ObjectPath(uid string) string { return "/cal/" + uid + ".ics" }

func (f *fakeRemote) Put(_ context.Context, path string, cal *ical.Calendar) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.objects[path] = cal
	f.changed <- path
	return `"etag-` + path + `"`, nil
}

func (f *fakeRemote) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	f.removed = append(f.removed, path)
	f.changed <- path
	return nil
}

func (f *fakeRemote) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok
}

type fixedSource struct{ e *calendar.Engine }

func (s fixedSource) Calendar() *calendar.Engine { return s.e }

func newPublisher(t *testing.T) (*Publisher, *fakeRemote, *storage.Storage) {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "worldcal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	remote := newFakeRemote()
	p := NewPublisher(remote, db, fixedSource{calendartest.Gregorian(t)},
		WithPublisherClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }))
	return p, remote, db
}

func visibleNote(t *testing.T) *domain.Note {
	e := calendartest.Gregorian(t)
	return &domain.Note{
		ID:            "n1",
		Title:         "Market day",
		StartDate:     calendartest.Date(t, e, 2024, 3, 2),
		AllDay:        true,
		PlayerVisible: true,
	}
}

func TestPublishAndHide(t *testing.T) {
	ctx := context.Background()
	p, remote, db := newPublisher(t)
	n := visibleNote(t)

	if err := p.Publish(ctx, n); err != nil {
		t.Fatal(err)
	}
	if !remote.has("/cal/n1.ics") {
		t.Fatal("note not on the server")
	}
	obj, err := db.GetCalDAVObject(ctx, "n1")
	if err != nil || obj == nil || obj.ETag != `"etag-/cal/n1.ics"` {
		t.Fatalf("object = %+v, %v", obj, err)
	}

	n.PlayerVisible = false
	if err := p.Publish(ctx, n); err != nil {
		t.Fatal(err)
	}
	if remote.has("/cal/n1.ics") {
		t.Fatal("hidden note still on the server")
	}
	if obj, _ := db.GetCalDAVObject(ctx, "n1"); obj != nil {
		t.Fatalf("object kept after unpublish: %+v", obj)
	}

	if err := p.Unpublish(ctx, "never-published"); err != nil {
		t.Fatal(err)
	}
	if len(remote.removed) != 1 {
		t.Fatalf("removed = %v", remote.removed)
	}
}

func TestPublishAllReportsFirstError(t *testing.T) {
	p, remote, _ := newPublisher(t)
	remote.putErr = errors.New("507 insufficient storage")

	a, b := visibleNote(t), visibleNote(t)
	b.ID = "n2"
	if err := p.PublishAll(context.Background(), []*domain.Note{a, b}); !errors.Is(err, remote.putErr) {
		t.Fatalf("PublishAll err = %v", err)
	}
}

func TestRunFollowsBus(t *testing.T) {
	p, remote, _ := newPublisher(t)
	bus := events.NewBus()
	detach := p.Attach(bus)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	wait := func() {
		t.Helper()
		select {
		case <-remote.changed:
		case <-time.After(5 * time.Second):
			t.Fatal("no change reached the server")
		}
	}

	n := visibleNote(t)
	bus.Publish(events.Event{Kind: events.NoteCreated, Note: n, NoteID: n.ID})
	wait()
	if !remote.has("/cal/n1.ics") {
		t.Fatal("created note not published")
	}

	bus.Publish(events.Event{Kind: events.NoteDeleted, NoteID: n.ID})
	wait()
	if remote.has("/cal/n1.ics") {
		t.Fatal("deleted note still published")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestCalendarChangeResyncs(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "worldcal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	remote := newFakeRemote()
	a, b := visibleNote(t), visibleNote(t)
	b.ID = "n2"
	list := func(context.Context) ([]*domain.Note, error) { return []*domain.Note{a, b}, nil }
	p := NewPublisher(remote, db, fixedSource{calendartest.Gregorian(t)}, WithResync(list))

	bus := events.NewBus()
	defer p.Attach(bus)()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	bus.Publish(events.Event{Kind: events.CalendarChanged, CalendarID: "gregorian"})
	for i := 0; i < 2; i++ {
		select {
		case <-remote.changed:
		case <-time.After(5 * time.Second):
			t.Fatal("resync did not publish every note")
		}
	}
	if !remote.has("/cal/n1.ics") || !remote.has("/cal/n2.ics") {
		t.Fatal("missing published notes")
	}
}

func TestFindCalendar(t *testing.T) {
	cals := []Calendar{
		{Path: "/dav/calendars/gm/home/", DisplayName: "Home"},
		{Path: "/dav/calendars/gm/worldcal/", DisplayName: "Campaign"},
	}
	tests := []struct {
		name, want string
		ok         bool
	}{
		{"worldcal", "/dav/calendars/gm/worldcal/", true},
		{"campaign", "/dav/calendars/gm/worldcal/", true},
		{"work", "", false},
	}
	for _, tt := range tests {
		got, ok := findCalendar(cals, tt.name)
		if ok != tt.ok || got.Path != tt.want {
			t.Errorf("findCalendar(%q) = %+v, %v", tt.name, got, ok)
		}
	}
}
