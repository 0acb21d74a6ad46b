package storage_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/storage"
)

func open(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "data", "worldcal.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNote() *domain.Note {
	end := domain.CalendarDate{Year: 1492, Month: 3, Day: 12}
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Note{
		ID:            "note-1",
		Title:         "Siege",
		Content:       "The **dragons** came.",
		StartDate:     domain.CalendarDate{Year: 1492, Month: 3, Day: 10, Weekday: 9},
		EndDate:       &end,
		Category:      "event",
		Tags:          []string{"city", "war"},
		PlayerVisible: true,
		Recurrence:    &domain.RecurrencePattern{Frequency: domain.FrequencyYearly, Interval: 1},
		ModuleData:    map[string]json.RawMessage{"loot": json.RawMessage(`{"gold":12}`)},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestNoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	n := sampleNote()
	if err := s.SaveNote(ctx, n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	got, err := s.GetNote(ctx, n.ID)
	if err != nil || got == nil {
		t.Fatalf("GetNote = %v, %v", got, err)
	}
	if got.Title != n.Title || got.Content != n.Content || got.Category != n.Category {
		t.Errorf("got %+v", got)
	}
	if !got.StartDate.Equal(n.StartDate) || got.EndDate == nil || !got.EndDate.Equal(*n.EndDate) {
		t.Errorf("dates = %v, %v", got.StartDate, got.EndDate)
	}
	if got.Recurrence == nil || got.Recurrence.Frequency != domain.FrequencyYearly {
		t.Errorf("recurrence = %+v", got.Recurrence)
	}
	if string(got.ModuleData["loot"]) != `{"gold":12}` {
		t.Errorf("module data = %s", got.ModuleData["loot"])
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, n.CreatedAt)
	}

	n.Title = "Siege, day two"
	if err := s.SaveNote(ctx, n); err != nil {
		t.Fatalf("SaveNote update: %v", err)
	}
	notes, err := s.ListNotes(ctx)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 1 || notes[0].Title != "Siege, day two" {
		t.Fatalf("ListNotes = %+v", notes)
	}

	ok, err := s.DeleteNote(ctx, n.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteNote = %v, %v", ok, err)
	}
	if got, _ := s.GetNote(ctx, n.ID); got != nil {
		t.Fatal("note still present after delete")
	}
	if ok, _ := s.DeleteNote(ctx, n.ID); ok {
		t.Fatal("second delete reported a row")
	}
}

func TestForeignDocumentsAreSkippedAndKept(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	if err := s.SaveDocument(ctx, "journal", "Journal", "text", map[string]json.RawMessage{"journal": json.RawMessage(`{"pinned":true}`)}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	notes, err := s.ListNotes(ctx)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("foreign document listed as note: %+v", notes)
	}

	n := sampleNote()
	n.ID = "journal"
	if err := s.SaveNote(ctx, n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	flags, err := s.DocumentFlags(ctx, "journal")
	if err != nil {
		t.Fatalf("DocumentFlags: %v", err)
	}
	if string(flags["journal"]) != `{"pinned":true}` {
		t.Errorf("foreign flags lost: %v", flags)
	}
	var f struct {
		CalendarNote bool `json:"calendarNote"`
	}
	if err := json.Unmarshal(flags[storage.FlagNamespace], &f); err != nil || !f.CalendarNote {
		t.Errorf("calendar flags = %s (%v)", flags[storage.FlagNamespace], err)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	if _, ok, err := s.Setting(ctx, "world_time"); err != nil || ok {
		t.Fatalf("unset setting = %v, %v", ok, err)
	}
	if err := s.SetSetting(ctx, "world_time", "100"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, "world_time", "200"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Setting(ctx, "world_time")
	if err != nil || !ok || v != "200" {
		t.Fatalf("Setting = %q, %v, %v", v, ok, err)
	}
	all, err := s.Settings(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("Settings = %v, %v", all, err)
	}
}

func TestCalDAVObjectsAndNotifications(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	n := sampleNote()
	if err := s.SaveNote(ctx, n); err != nil {
		t.Fatal(err)
	}

	if err := s.SaveCalDAVObject(ctx, &storage.CalDAVObject{NoteID: n.ID, Path: "/cal/note-1.ics", ETag: `"1"`}); err != nil {
		t.Fatalf("SaveCalDAVObject: %v", err)
	}
	o, err := s.GetCalDAVObject(ctx, n.ID)
	if err != nil || o == nil || o.Path != "/cal/note-1.ics" || o.SyncedAt == nil {
		t.Fatalf("GetCalDAVObject = %+v, %v", o, err)
	}

	first, err := s.MarkNotified(ctx, n.ID, "1492-3-10")
	if err != nil || !first {
		t.Fatalf("first MarkNotified = %v, %v", first, err)
	}
	again, err := s.MarkNotified(ctx, n.ID, "1492-3-10")
	if err != nil || again {
		t.Fatalf("second MarkNotified = %v, %v", again, err)
	}

	if _, err := s.DeleteNote(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if o, _ := s.GetCalDAVObject(ctx, n.ID); o == nil {
		t.Fatal("caldav object dropped with the note")
	}
	if err := s.DeleteCalDAVObject(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if o, _ := s.GetCalDAVObject(ctx, n.ID); o != nil {
		t.Error("caldav object survived DeleteCalDAVObject")
	}
}
