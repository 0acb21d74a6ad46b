package service

import (
	"context"
	"encoding/json"

	"github.com/tazhate/worldcal/internal/domain"
)

// CompatNamespace is the module-data namespace used by NoteData and SetNoteData.
const CompatNamespace = "compat"

// CompatDate is a date with zero-based month and day, as older calendar
// modules pass them.
type CompatDate struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour,omitempty"`
	Minute int `json:"minute,omitempty"`
	Second int `json:"seconds,omitempty"`
}

// ToDate converts to the one-based internal representation.
func (c CompatDate) ToDate() domain.CalendarDate {
	return domain.CalendarDate{
		Year:  c.Year,
		Month: c.Month + 1,
		Day:   c.Day + 1,
		Time:  domain.TimeOfDay{Hour: c.Hour, Minute: c.Minute, Second: c.Second},
	}
}

// FromDate converts an ordinary date to the zero-based form.
func FromDate(d domain.CalendarDate) CompatDate {
	return CompatDate{
		Year:   d.Year,
		Month:  d.Month - 1,
		Day:    d.Day - 1,
		Hour:   d.Time.Hour,
		Minute: d.Time.Minute,
		Second: d.Time.Second,
	}
}

// CompatAdapter exposes the note store with zero-based dates.
type CompatAdapter struct {
	notes *NotesService
}

func NewCompatAdapter(notes *NotesService) *CompatAdapter {
	return &CompatAdapter{notes: notes}
}

// AddNote creates a note; endDate may be nil.
func (a *CompatAdapter) AddNote(ctx context.Context, title, content string, start CompatDate, end *CompatDate, allDay bool) (*domain.Note, error) {
	in := NoteInput{
		Title:     title,
		Content:   content,
		StartDate: start.ToDate(),
		AllDay:    allDay,
	}
	if end != nil {
		d := end.ToDate()
		in.EndDate = &d
	}
	return a.notes.CreateNote(ctx, in)
}

// GetNotesForDay lists the notes on a zero-based month and day.
func (a *CompatAdapter) GetNotesForDay(ctx context.Context, year, month, day int) ([]*domain.Note, error) {
	return a.notes.GetNotesForDate(ctx, CompatDate{Year: year, Month: month, Day: day}.ToDate())
}

func (a *CompatAdapter) RemoveNote(ctx context.Context, id string) error {
	return a.notes.DeleteNote(ctx, id)
}

// NoteData returns the opaque data stored for the adapter's callers.
func (a *CompatAdapter) NoteData(ctx context.Context, id string) (json.RawMessage, error) {
	return a.notes.ModuleData(ctx, id, CompatNamespace)
}

func (a *CompatAdapter) SetNoteData(ctx context.Context, id string, data json.RawMessage) error {
	_, err := a.notes.SetModuleData(ctx, id, CompatNamespace, data)
	return err
}
