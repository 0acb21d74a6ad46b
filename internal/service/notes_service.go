package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/events"
	"github.com/tazhate/worldcal/internal/index"
	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/recurrence"
	"github.com/tazhate/worldcal/internal/search"
)

// NoteInput holds the fields of a new note.
type NoteInput struct {
	Title         string                     `json:"title"`
	Content       string                     `json:"content"`
	StartDate     domain.CalendarDate        `json:"start_date"`
	EndDate       *domain.CalendarDate       `json:"end_date,omitempty"`
	AllDay        bool                       `json:"all_day"`
	Category      string                     `json:"category,omitempty"`
	Tags          []string                   `json:"tags,omitempty"`
	PlayerVisible bool                       `json:"player_visible"`
	Recurrence    *domain.RecurrencePattern  `json:"recurrence,omitempty"`
	ModuleData    map[string]json.RawMessage `json:"module_data,omitempty"`
}

// NoteUpdate changes the non-nil fields of a note.
type NoteUpdate struct {
	Title           *string                   `json:"title,omitempty"`
	Content         *string                   `json:"content,omitempty"`
	StartDate       *domain.CalendarDate      `json:"start_date,omitempty"`
	EndDate         *domain.CalendarDate      `json:"end_date,omitempty"`
	ClearEndDate    bool                      `json:"clear_end_date,omitempty"`
	AllDay          *bool                     `json:"all_day,omitempty"`
	Category        *string                   `json:"category,omitempty"`
	Tags            []string                  `json:"tags,omitempty"`
	PlayerVisible   *bool                     `json:"player_visible,omitempty"`
	Recurrence      *domain.RecurrencePattern `json:"recurrence,omitempty"`
	ClearRecurrence bool                      `json:"clear_recurrence,omitempty"`
}

// Occurrence is a note placed on one day.
type Occurrence struct {
	Note *domain.Note        `json:"note"`
	Date domain.CalendarDate `json:"date"`
}

// SearchItem is a search hit resolved to its note.
type SearchItem struct {
	Note *domain.Note        `json:"note"`
	Date domain.CalendarDate `json:"date"`
}

type SearchResult struct {
	Items      []SearchItem  `json:"items"`
	TotalCount int           `json:"total_count"`
	Elapsed    time.Duration `json:"elapsed"`
}

// NotesService is the only way notes change. Each mutation validates,
// checks permission, persists, re-indexes and then publishes an event; a
// failure at any step leaves storage and index as they were. Mutations of
// one note id apply in arrival order.
type NotesService struct {
	store        NoteStore
	perms        PermissionChecker
	bus          *events.Bus
	clock        func() time.Time
	newID        func() string
	maxExpansion int
	maxResults   int

	queue *keyQueue
	ix    *index.Index

	mu       sync.RWMutex
	engine   *calendar.Engine
	expander *recurrence.Expander
	searcher *search.Engine
	notes    map[string]*domain.Note
	windows  map[string]windowSet // materialised day ranges per series
}

type NotesOption func(*NotesService)

func WithPermissions(p PermissionChecker) NotesOption {
	return func(s *NotesService) { s.perms = p }
}

func WithBus(b *events.Bus) NotesOption {
	return func(s *NotesService) { s.bus = b }
}

func WithClock(clock func() time.Time) NotesOption {
	return func(s *NotesService) { s.clock = clock }
}

func WithIDGenerator(f func() string) NotesOption {
	return func(s *NotesService) { s.newID = f }
}

// WithMaxExpansion caps recurrence candidates and multi-day spans.
func WithMaxExpansion(n int) NotesOption {
	return func(s *NotesService) {
		if n > 0 {
			s.maxExpansion = n
		}
	}
}

// WithMaxSearchResults caps the search page size.
func WithMaxSearchResults(n int) NotesOption {
	return func(s *NotesService) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

func NewNotesService(store NoteStore, engine *calendar.Engine, opts ...NotesOption) *NotesService {
	s := &NotesService{
		store:        store,
		perms:        StaticPermissions{},
		clock:        time.Now,
		newID:        uuid.NewString,
		maxExpansion: recurrence.DefaultMaxIterations,
		maxResults:   search.MaxLimit,
		queue:        newKeyQueue(),
		ix:           index.New(),
		notes:        make(map[string]*domain.Note),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setEngine(engine)
	return s
}

func (s *NotesService) setEngine(e *calendar.Engine) {
	s.engine = e
	// One expansion covers a chunk of at most maxExpansion days plus a span
	// shorter than that, and may step a week past either end.
	ceiling := 2*s.maxExpansion + 2*e.WeekdayCount() + 2
	s.expander = recurrence.New(e, recurrence.WithMaxIterations(ceiling))
	s.searcher = search.New(s.ix, e, search.WithMaxLimit(s.maxResults))
	s.windows = make(map[string]windowSet)
}

// Index exposes the note index for read-only lookups.
func (s *NotesService) Index() *index.Index { return s.ix }

// Calendar returns the engine notes are currently indexed with.
func (s *NotesService) Calendar() *calendar.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Load replaces the in-memory state with the notes in storage.
func (s *NotesService) Load(ctx context.Context) error {
	notes, err := s.store.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("list notes: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = make(map[string]*domain.Note, len(notes))
	for _, n := range notes {
		s.notes[n.ID] = n
	}
	s.windows = make(map[string]windowSet)
	s.rebuildLocked()
	appLog.Info("notes loaded", "count", len(notes))
	return nil
}

// UseCalendar re-indexes every note under e.
func (s *NotesService) UseCalendar(e *calendar.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setEngine(e)
	s.rebuildLocked()
	appLog.Info("notes reindexed", "calendar", e.ID(), "count", len(s.notes))
}

func (s *NotesService) rebuildLocked() {
	s.ix.Reset()
	for id, n := range s.notes {
		entry, kept, err := s.entryLocked(n, s.windows[id])
		s.setWindowsLocked(id, kept)
		if err != nil {
			appLog.Warn("note not placeable on calendar", "note", n.ID, "calendar", s.engine.ID(), "err", err)
			entry = baseEntry(n)
		}
		if err := s.ix.Upsert(entry); err != nil {
			appLog.Error("index note", err, "note", n.ID)
		}
	}
}

// CreateNote stores a new note.
func (s *NotesService) CreateNote(ctx context.Context, in NoteInput) (*domain.Note, error) {
	id := s.newID()
	return s.mutate(ctx, id, ActionCreateNote, func(old *domain.Note, e *calendar.Engine) (*domain.Note, error) {
		if old != nil {
			return nil, domain.Invalid("create note", fmt.Sprintf("id %s already in use", id))
		}
		now := s.clock()
		n := &domain.Note{
			ID:            id,
			Title:         in.Title,
			Content:       in.Content,
			StartDate:     in.StartDate,
			EndDate:       in.EndDate,
			AllDay:        in.AllDay,
			Category:      in.Category,
			Tags:          in.Tags,
			PlayerVisible: in.PlayerVisible,
			Recurrence:    in.Recurrence,
			ModuleData:    in.ModuleData,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		n = n.Clone()
		return n, validateNote(e, n)
	})
}

// CreateRecurringNote stores a new series parent.
func (s *NotesService) CreateRecurringNote(ctx context.Context, in NoteInput, p domain.RecurrencePattern) (*domain.Note, error) {
	in.Recurrence = &p
	return s.CreateNote(ctx, in)
}

// UpdateNote applies upd to the note with id.
func (s *NotesService) UpdateNote(ctx context.Context, id string, upd NoteUpdate) (*domain.Note, error) {
	return s.mutate(ctx, id, ActionUpdateNote, func(n *domain.Note, e *calendar.Engine) (*domain.Note, error) {
		if n == nil {
			return nil, domain.NotFound("update note", id)
		}
		if upd.Title != nil {
			n.Title = *upd.Title
		}
		if upd.Content != nil {
			n.Content = *upd.Content
		}
		if upd.StartDate != nil {
			n.StartDate = *upd.StartDate
		}
		if upd.ClearEndDate {
			n.EndDate = nil
		} else if upd.EndDate != nil {
			end := *upd.EndDate
			n.EndDate = &end
		}
		if upd.AllDay != nil {
			n.AllDay = *upd.AllDay
		}
		if upd.Category != nil {
			n.Category = *upd.Category
		}
		if upd.Tags != nil {
			n.Tags = append([]string(nil), upd.Tags...)
		}
		if upd.PlayerVisible != nil {
			n.PlayerVisible = *upd.PlayerVisible
		}
		if upd.ClearRecurrence {
			n.Recurrence = nil
		} else if upd.Recurrence != nil {
			n.Recurrence = upd.Recurrence.Clone()
		}
		n.UpdatedAt = s.clock()
		return n, validateNote(e, n)
	})
}

// UpdateRecurringPattern replaces the pattern of a note; nil turns a series
// back into a single note. The occurrence set is recomputed in full.
func (s *NotesService) UpdateRecurringPattern(ctx context.Context, id string, p *domain.RecurrencePattern) (*domain.Note, error) {
	return s.mutate(ctx, id, ActionUpdateNote, func(n *domain.Note, e *calendar.Engine) (*domain.Note, error) {
		if n == nil {
			return nil, domain.NotFound("update recurring pattern", id)
		}
		n.Recurrence = p.Clone()
		n.UpdatedAt = s.clock()
		return n, validateNote(e, n)
	})
}

// DeleteNote removes a note; for a series parent every occurrence goes
// with it.
func (s *NotesService) DeleteNote(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, ActionDeleteNote, func(n *domain.Note, _ *calendar.Engine) (*domain.Note, error) {
		if n == nil {
			return nil, domain.NotFound("delete note", id)
		}
		return nil, nil
	})
	return err
}

// DeleteRecurringSeries removes a series parent and its occurrences.
func (s *NotesService) DeleteRecurringSeries(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, ActionDeleteNote, func(n *domain.Note, _ *calendar.Engine) (*domain.Note, error) {
		if n == nil {
			return nil, domain.NotFound("delete recurring series", id)
		}
		if !n.IsRecurring() {
			return nil, domain.Invalid("delete recurring series", fmt.Sprintf("note %s does not recur", id))
		}
		return nil, nil
	})
	return err
}

// SetModuleData stores opaque data of one module on a note; a nil value
// removes the namespace.
func (s *NotesService) SetModuleData(ctx context.Context, id, namespace string, value json.RawMessage) (*domain.Note, error) {
	return s.mutate(ctx, id, ActionSetModuleData, func(n *domain.Note, _ *calendar.Engine) (*domain.Note, error) {
		const op = "set module data"
		if n == nil {
			return nil, domain.NotFound(op, id)
		}
		if strings.TrimSpace(namespace) == "" {
			return nil, domain.Invalid(op, "namespace is empty")
		}
		if value == nil {
			delete(n.ModuleData, namespace)
		} else {
			if !json.Valid(value) {
				return nil, domain.Invalid(op, "value is not valid JSON")
			}
			if n.ModuleData == nil {
				n.ModuleData = make(map[string]json.RawMessage)
			}
			n.ModuleData[namespace] = append(json.RawMessage(nil), value...)
		}
		n.UpdatedAt = s.clock()
		return n, nil
	})
}

// ModuleData returns one module's data on a note, or nil when unset.
func (s *NotesService) ModuleData(ctx context.Context, id, namespace string) (json.RawMessage, error) {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return n.ModuleData[namespace], nil
}

// mutate runs one mutation of note id. build receives a private copy of
// the current note (nil when absent) and returns the new state, nil for a
// deletion.
func (s *NotesService) mutate(ctx context.Context, id string, action Action, build func(*domain.Note, *calendar.Engine) (*domain.Note, error)) (*domain.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result *domain.Note
	err := s.queue.Do(ctx, id, func() error {
		s.mu.RLock()
		old := s.notes[id]
		e := s.engine
		s.mu.RUnlock()

		next, err := build(old.Clone(), e)
		if err != nil {
			return err
		}

		subject := next
		if subject == nil {
			subject = old
		}
		actor := ActorFrom(ctx)
		if !s.perms.Allowed(ctx, actor, action, subject) {
			return domain.PermissionDenied(string(action), fmt.Sprintf("%s may not change note %s", actor.Name, id))
		}

		if next != nil {
			// Dry run so that indexing problems surface before anything is written.
			s.mu.RLock()
			_, _, err := s.entryLocked(next, s.windows[id])
			s.mu.RUnlock()
			if err != nil {
				return err
			}
			if err := s.store.SaveNote(ctx, next); err != nil {
				return fmt.Errorf("save note: %w", err)
			}
		} else if _, err := s.store.DeleteNote(ctx, id); err != nil {
			return fmt.Errorf("delete note: %w", err)
		}

		if err := s.apply(id, next); err != nil {
			s.rollback(ctx, id, old)
			return err
		}

		result = next.Clone()
		s.publish(action, id, old, next)
		return nil
	})
	return result, err
}

func (s *NotesService) apply(id string, next *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next == nil {
		s.ix.Remove(id)
		delete(s.notes, id)
		delete(s.windows, id)
		return nil
	}
	entry, kept, err := s.entryLocked(next, s.windows[id])
	if err != nil {
		return err
	}
	if err := s.ix.Upsert(entry); err != nil {
		return err
	}
	s.notes[id] = next
	s.setWindowsLocked(id, kept)
	return nil
}

func (s *NotesService) rollback(ctx context.Context, id string, old *domain.Note) {
	var err error
	if old == nil {
		_, err = s.store.DeleteNote(ctx, id)
	} else {
		err = s.store.SaveNote(ctx, old)
	}
	if err != nil {
		appLog.Error("rollback note", err, "note", id)
	}
}

func (s *NotesService) publish(action Action, id string, old, next *domain.Note) {
	if s.bus == nil {
		return
	}
	ev := events.Event{NoteID: id, At: s.clock()}
	switch {
	case next == nil:
		ev.Kind = events.NoteDeleted
		ev.Note = old.Clone()
	case old == nil:
		ev.Kind = events.NoteCreated
		ev.Note = next.Clone()
	default:
		ev.Kind = events.NoteUpdated
		ev.Note = next.Clone()
	}
	s.bus.Publish(ev)
}

// validateNote normalises n in place and checks it against e.
func validateNote(e *calendar.Engine, n *domain.Note) error {
	const op = "validate note"
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return domain.Invalid(op, "title is empty")
	}
	n.Category = strings.TrimSpace(n.Category)
	n.Tags = domain.NormalizeTags(n.Tags)

	start, err := e.Complete(n.StartDate)
	if err != nil {
		return err
	}
	n.StartDate = start
	if n.EndDate != nil {
		end, err := e.Complete(*n.EndDate)
		if err != nil {
			return err
		}
		cmp, err := e.Compare(start, end)
		if err != nil {
			return err
		}
		if cmp > 0 {
			return domain.RangeError(op, "end date precedes start date")
		}
		n.EndDate = &end
	}
	if p := n.Recurrence; p != nil {
		if err := p.Validate(e.WeekdayCount()); err != nil {
			return err
		}
		if p.EndDate != nil {
			if err := e.Validate(*p.EndDate); err != nil {
				return err
			}
		}
		for _, d := range p.SkipDates {
			if err := e.Validate(d); err != nil {
				return err
			}
		}
	}
	for ns, raw := range n.ModuleData {
		if ns == "" || !json.Valid(raw) {
			return domain.Invalid(op, fmt.Sprintf("module data %q is not valid JSON", ns))
		}
	}
	return nil
}

func baseEntry(n *domain.Note) index.Entry {
	return index.Entry{
		ID:            n.ID,
		Title:         n.Title,
		Category:      n.Category,
		Tags:          n.Tags,
		PlayerVisible: n.PlayerVisible,
		Text:          index.Normalize(n.Title + "\n" + index.PlainText(n.Content)),
	}
}

// entryLocked derives the index entry of n. Single notes cover every day
// from start to end; series cover their occurrences on the anchor day and
// inside ws, the windows already materialised for them. Windows that no
// longer expand are left out of kept and come back on the next read.
// Callers hold s.mu.
func (s *NotesService) entryLocked(n *domain.Note, ws windowSet) (entry index.Entry, kept windowSet, err error) {
	entry = baseEntry(n)
	e := s.engine
	startDay, err := e.DayNumber(n.StartDate)
	if err != nil {
		return entry, nil, err
	}
	span, err := s.span(n, startDay)
	if err != nil {
		return entry, nil, err
	}
	if !n.IsRecurring() {
		entry.Dates = s.days(startDay, span, n.StartDate.Time)
		return entry, nil, nil
	}
	entry.Dates, err = s.occurrenceRefs(n, span, dayRange{startDay, startDay})
	if err != nil {
		return entry, nil, err
	}
	for _, r := range ws {
		refs, err := s.occurrenceRefs(n, span, r)
		if err != nil {
			appLog.Warn("series window dropped", "note", n.ID, "from", r.from, "to", r.to, "err", err)
			continue
		}
		entry.Dates = append(entry.Dates, refs...)
		kept = kept.add(r)
	}
	return entry, kept, nil
}

func (s *NotesService) setWindowsLocked(id string, ws windowSet) {
	if len(ws) == 0 {
		delete(s.windows, id)
		return
	}
	s.windows[id] = ws
}

// span returns how many days after its start a note (or each occurrence)
// extends.
func (s *NotesService) span(n *domain.Note, startDay int64) (int64, error) {
	if n.EndDate == nil {
		return 0, nil
	}
	endDay, err := s.engine.DayNumber(*n.EndDate)
	if err != nil {
		return 0, err
	}
	span := endDay - startDay
	if span < 0 {
		return 0, domain.RangeError("index note", "end date precedes start date")
	}
	if span >= int64(s.maxExpansion) {
		return 0, domain.ResourceExceeded("index note", fmt.Sprintf("note spans more than %d days", s.maxExpansion))
	}
	return span, nil
}

func (s *NotesService) days(first, span int64, t domain.TimeOfDay) []index.DateRef {
	refs := make([]index.DateRef, 0, span+1)
	for day := first; day <= first+span; day++ {
		d := s.engine.DateFromDayNumber(day)
		if day == first {
			d.Time = t
		}
		refs = append(refs, index.DateRef{Key: d.Key(), Day: day, Date: d})
	}
	return refs
}

// occurrenceRefs expands n over r one chunk of at most maxExpansion days
// at a time.
func (s *NotesService) occurrenceRefs(n *domain.Note, span int64, r dayRange) ([]index.DateRef, error) {
	e := s.engine
	var refs []index.DateRef
	for _, c := range r.chunks(int64(s.maxExpansion)) {
		from := e.DateFromDayNumber(c.from - span)
		to := e.DateFromDayNumber(c.to)
		occs, err := s.expander.Occurrences(*n.Recurrence, n.StartDate, from, to)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", n.ID, err)
		}
		for _, occ := range occs {
			day, err := e.DayNumber(occ)
			if err != nil {
				return nil, err
			}
			// Occurrences starting inside the previous chunk were already
			// added there.
			if c.from != r.from && day < c.from {
				continue
			}
			refs = append(refs, s.days(day, span, occ.Time)...)
		}
	}
	return refs, nil
}

// materialize makes sure every series is indexed over [from, to]. Nothing
// is recorded unless every series expands; the error names the first
// series that did not.
func (s *NotesService) materialize(from, to int64) error {
	want := dayRange{from, to}
	s.mu.RLock()
	pending := s.pendingLocked(want)
	s.mu.RUnlock()
	if !pending {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	type update struct {
		reset   *index.Entry
		refs    []index.DateRef
		windows windowSet
	}
	updates := make(map[string]update)
	for _, id := range s.seriesIDsLocked() {
		n := s.notes[id]
		ws := s.windows[id]
		missing := ws.missing(want)
		if len(missing) == 0 {
			continue
		}
		var u update
		if ws.overBudget(missing, s.windowBudget()) {
			// Start the series over from its anchor.
			entry, _, err := s.entryLocked(n, nil)
			if err != nil {
				return err
			}
			u.reset = &entry
			ws, missing = nil, []dayRange{want}
		}
		startDay, err := s.engine.DayNumber(n.StartDate)
		if err != nil {
			return err
		}
		span, err := s.span(n, startDay)
		if err != nil {
			return err
		}
		for _, r := range missing {
			refs, err := s.occurrenceRefs(n, span, r)
			if err != nil {
				return err
			}
			u.refs = append(u.refs, refs...)
			ws = ws.add(r)
		}
		u.windows = ws
		updates[id] = u
	}

	for id, u := range updates {
		if u.reset != nil {
			if err := s.ix.Upsert(*u.reset); err != nil {
				return err
			}
		}
		if len(u.refs) > 0 {
			if err := s.ix.AddDates(id, u.refs); err != nil {
				return err
			}
		}
		s.setWindowsLocked(id, u.windows)
	}
	return nil
}

func (s *NotesService) pendingLocked(want dayRange) bool {
	for id, n := range s.notes {
		if n.IsRecurring() && len(s.windows[id].missing(want)) > 0 {
			return true
		}
	}
	return false
}

// seriesIDsLocked lists recurring notes in id order.
func (s *NotesService) seriesIDsLocked() []string {
	var ids []string
	for id, n := range s.notes {
		if n.IsRecurring() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// windowBudget is how many days one series keeps materialised before it
// is started over.
func (s *NotesService) windowBudget() int64 {
	return 4 * int64(s.maxExpansion)
}

func visibleTo(a Actor, n *domain.Note) bool {
	return a.IsGM() || n.PlayerVisible
}

// GetNote returns a copy of a note the caller may see.
func (s *NotesService) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	s.mu.RLock()
	n, ok := s.notes[id]
	s.mu.RUnlock()
	if !ok || !visibleTo(ActorFrom(ctx), n) {
		return nil, domain.NotFound("get note", id)
	}
	return n.Clone(), nil
}

// GetNotesForDate returns the notes on one day, series occurrences included.
func (s *NotesService) GetNotesForDate(ctx context.Context, date domain.CalendarDate) ([]*domain.Note, error) {
	e := s.Calendar()
	d, err := e.Complete(date)
	if err != nil {
		return nil, err
	}
	day, err := e.DayNumber(d)
	if err != nil {
		return nil, err
	}
	if err := s.materialize(day, day); err != nil {
		return nil, err
	}
	ids := s.ix.LookupByDate(d.Key())
	notes := s.resolve(ActorFrom(ctx), ids)
	sortNotes(notes)
	return notes, nil
}

// GetNotesForDateRange returns each note with a day in [from, to] once.
func (s *NotesService) GetNotesForDateRange(ctx context.Context, from, to domain.CalendarDate) ([]*domain.Note, error) {
	occs, err := s.Occurrences(ctx, from, to)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(occs))
	var notes []*domain.Note
	for _, o := range occs {
		if !seen[o.Note.ID] {
			seen[o.Note.ID] = true
			notes = append(notes, o.Note)
		}
	}
	return notes, nil
}

// Occurrences lists every (note, day) pair in [from, to] in date order.
func (s *NotesService) Occurrences(ctx context.Context, from, to domain.CalendarDate) ([]Occurrence, error) {
	e := s.Calendar()
	fromDay, err := e.DayNumber(from)
	if err != nil {
		return nil, err
	}
	toDay, err := e.DayNumber(to)
	if err != nil {
		return nil, err
	}
	if toDay < fromDay {
		return nil, domain.RangeError("note occurrences", "range end precedes range start")
	}
	if toDay-fromDay >= int64(s.maxExpansion) {
		return nil, domain.ResourceExceeded("note occurrences", fmt.Sprintf("range wider than %d days", s.maxExpansion))
	}
	if err := s.materialize(fromDay, toDay); err != nil {
		return nil, err
	}

	type placed struct {
		id   string
		date index.DateRef
	}
	var found []placed
	s.ix.View(func(v index.View) {
		for id := range index.DayRange(v, fromDay, toDay) {
			entry, _ := v.Entry(id)
			for _, d := range entry.DatesInRange(fromDay, toDay) {
				found = append(found, placed{id, d})
			}
		}
	})

	actor := ActorFrom(ctx)
	s.mu.RLock()
	kept := make([]placed, 0, len(found))
	notes := make(map[string]*domain.Note)
	for _, p := range found {
		n, ok := s.notes[p.id]
		if !ok || !visibleTo(actor, n) {
			continue
		}
		if notes[p.id] == nil {
			notes[p.id] = n.Clone()
		}
		kept = append(kept, p)
	}
	s.mu.RUnlock()

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].date.Day != kept[j].date.Day {
			return kept[i].date.Day < kept[j].date.Day
		}
		return noteLess(notes[kept[i].id], notes[kept[j].id])
	})
	out := make([]Occurrence, len(kept))
	for i, p := range kept {
		out[i] = Occurrence{Note: notes[p.id], Date: p.date.Date}
	}
	return out, nil
}

// Search runs criteria over the index. Players only ever see visible notes.
func (s *NotesService) Search(ctx context.Context, c search.Criteria) (SearchResult, error) {
	actor := ActorFrom(ctx)
	if !actor.IsGM() {
		c.Visibility = search.VisibilityVisible
	}
	s.mu.RLock()
	e, searcher := s.engine, s.searcher
	s.mu.RUnlock()

	if c.From != nil && c.To != nil {
		from, err := e.DayNumber(*c.From)
		if err != nil {
			return SearchResult{}, err
		}
		to, err := e.DayNumber(*c.To)
		if err != nil {
			return SearchResult{}, err
		}
		if to >= from {
			if to-from >= int64(s.maxExpansion) {
				return SearchResult{}, domain.ResourceExceeded("search notes", fmt.Sprintf("date range wider than %d days", s.maxExpansion))
			}
			if err := s.materialize(from, to); err != nil {
				return SearchResult{}, err
			}
		}
	}

	res, err := searcher.Search(c)
	if err != nil {
		return SearchResult{}, err
	}
	out := SearchResult{TotalCount: res.TotalCount, Elapsed: res.Elapsed, Items: make([]SearchItem, 0, len(res.Items))}
	s.mu.RLock()
	for _, h := range res.Items {
		if n, ok := s.notes[h.ID]; ok {
			out.Items = append(out.Items, SearchItem{Note: n.Clone(), Date: h.Date})
		}
	}
	s.mu.RUnlock()
	return out, nil
}

// ListNotes returns every note the caller may see, ordered by start date.
func (s *NotesService) ListNotes(ctx context.Context) ([]*domain.Note, error) {
	actor := ActorFrom(ctx)
	s.mu.RLock()
	e := s.engine
	type keyed struct {
		n   *domain.Note
		day int64
	}
	list := make([]keyed, 0, len(s.notes))
	for _, n := range s.notes {
		if !visibleTo(actor, n) {
			continue
		}
		day, _ := e.DayNumber(n.StartDate)
		list = append(list, keyed{n.Clone(), day})
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].day != list[j].day {
			return list[i].day < list[j].day
		}
		return noteLess(list[i].n, list[j].n)
	})
	out := make([]*domain.Note, len(list))
	for i, k := range list {
		out[i] = k.n
	}
	return out, nil
}

// Len returns the number of notes.
func (s *NotesService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

func (s *NotesService) resolve(actor Actor, ids []string) []*domain.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Note, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.notes[id]; ok && visibleTo(actor, n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func sortNotes(notes []*domain.Note) {
	sort.Slice(notes, func(i, j int) bool { return noteLess(notes[i], notes[j]) })
}

// noteLess orders all-day notes first, then by time of day, title and id.
func noteLess(a, b *domain.Note) bool {
	if a.AllDay != b.AllDay {
		return a.AllDay
	}
	ta, tb := a.StartDate.Time, b.StartDate.Time
	if ta != tb {
		if ta.Hour != tb.Hour {
			return ta.Hour < tb.Hour
		}
		if ta.Minute != tb.Minute {
			return ta.Minute < tb.Minute
		}
		return ta.Second < tb.Second
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.ID < b.ID
}
