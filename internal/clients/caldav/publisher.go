package caldav

import (
	"context"
	"fmt"
	"time"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/events"
	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/storage"
)

const queueSize = 256

// ObjectStore remembers where notes were published.
type ObjectStore interface {
	SaveCalDAVObject(ctx context.Context, o *storage.CalDAVObject) error
	GetCalDAVObject(ctx context.Context, noteID string) (*storage.CalDAVObject, error)
	DeleteCalDAVObject(ctx context.Context, noteID string) error
}

// CalendarSource returns the calendar notes are dated in.
type CalendarSource interface {
	Calendar() *calendar.Engine
}

// NoteLister lists every note for a full resync.
type NoteLister func(ctx context.Context) ([]*domain.Note, error)

type job struct {
	note   *domain.Note
	noteID string
	resync bool
}

// Publisher mirrors player-visible notes into a CalDAV collection. Hidden
// notes are removed from the server.
type Publisher struct {
	remote  Remote
	objects ObjectStore
	source  CalendarSource
	horizon int
	clock   func() time.Time
	list    NoteLister
	queue   chan job
}

type PublisherOption func(*Publisher)

// WithHorizon sets how many days of a series without an RRULE form are listed.
func WithHorizon(days int) PublisherOption {
	return func(p *Publisher) {
		if days > 0 {
			p.horizon = days
		}
	}
}

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.clock = now }
}

// WithResync republishes every note listed by list when the active
// calendar changes.
func WithResync(list NoteLister) PublisherOption {
	return func(p *Publisher) { p.list = list }
}

func NewPublisher(remote Remote, objects ObjectStore, source CalendarSource, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		remote:  remote,
		objects: objects,
		source:  source,
		horizon: DefaultHorizon,
		clock:   time.Now,
		queue:   make(chan job, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attach queues note events from b. Run drains the queue.
func (p *Publisher) Attach(b *events.Bus) func() {
	kinds := []events.Kind{events.NoteCreated, events.NoteUpdated, events.NoteDeleted}
	if p.list != nil {
		kinds = append(kinds, events.CalendarChanged)
	}
	return b.Subscribe(func(e events.Event) {
		j := job{noteID: e.NoteID}
		switch {
		case e.Kind == events.CalendarChanged:
			j.resync = true
		case e.Kind != events.NoteDeleted && e.Note != nil:
			j.note = e.Note.Clone()
			j.noteID = e.Note.ID
		}
		select {
		case p.queue <- j:
		default:
			appLog.Warn("caldav queue full, dropping change", "note", j.noteID, "resync", j.resync)
		}
	}, kinds...)
}

// Run publishes queued changes until ctx ends.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-p.queue:
			var err error
			switch {
			case j.resync:
				err = p.resync(ctx)
			case j.note != nil:
				err = p.Publish(ctx, j.note)
			default:
				err = p.Unpublish(ctx, j.noteID)
			}
			if err != nil {
				appLog.Error("caldav sync", err, "note", j.noteID)
			}
		}
	}
}

// Publish writes n to the server, or removes it when players may not see it.
func (p *Publisher) Publish(ctx context.Context, n *domain.Note) error {
	if !n.PlayerVisible {
		return p.Unpublish(ctx, n.ID)
	}
	cal, err := NoteCalendar(p.source.Calendar(), n, p.horizon, p.clock())
	if err != nil {
		return fmt.Errorf("render note %s: %w", n.ID, err)
	}
	path := p.remote.ObjectPath(n.ID)
	etag, err := p.remote.Put(ctx, path, cal)
	if err != nil {
		return err
	}
	if err := p.objects.SaveCalDAVObject(ctx, &storage.CalDAVObject{NoteID: n.ID, Path: path, ETag: etag}); err != nil {
		return fmt.Errorf("save caldav object: %w", err)
	}
	appLog.Debug("note published", "note", n.ID, "path", path)
	return nil
}

// Unpublish removes the note from the server if it was ever published.
func (p *Publisher) Unpublish(ctx context.Context, noteID string) error {
	obj, err := p.objects.GetCalDAVObject(ctx, noteID)
	if err != nil {
		return fmt.Errorf("get caldav object: %w", err)
	}
	if obj == nil {
		return nil
	}
	if err := p.remote.Remove(ctx, obj.Path); err != nil {
		return err
	}
	if err := p.objects.DeleteCalDAVObject(ctx, noteID); err != nil {
		return fmt.Errorf("delete caldav object: %w", err)
	}
	appLog.Debug("note unpublished", "note", noteID, "path", obj.Path)
	return nil
}

// PublishAll publishes every note, as after a calendar switch. It returns
// the first error after trying all notes.
func (p *Publisher) PublishAll(ctx context.Context, notes []*domain.Note) error {
	var first error
	for _, n := range notes {
		if err := p.Publish(ctx, n); err != nil {
			appLog.Error("caldav publish", err, "note", n.ID)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (p *Publisher) resync(ctx context.Context) error {
	notes, err := p.list(ctx)
	if err != nil {
		return fmt.Errorf("list notes: %w", err)
	}
	appLog.Info("caldav resync", "notes", len(notes))
	return p.PublishAll(ctx, notes)
}
