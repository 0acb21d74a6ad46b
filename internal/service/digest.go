package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/tazhate/worldcal/internal/domain"
	appLog "github.com/tazhate/worldcal/internal/log"
)

// NotifiedMarker records which (note, day) pairs were already announced.
type NotifiedMarker interface {
	MarkNotified(ctx context.Context, noteID, dateKey string) (bool, error)
}

// DigestService announces the player-visible notes of the current world day.
type DigestService struct {
	notes  *NotesService
	time   *TimeService
	sink   NotificationSink
	marker NotifiedMarker
}

func NewDigestService(notes *NotesService, ts *TimeService, sink NotificationSink, marker NotifiedMarker) *DigestService {
	return &DigestService{notes: notes, time: ts, sink: sink, marker: marker}
}

// Send notifies about notes of today not announced before. It reports how
// many notes went out.
func (d *DigestService) Send(ctx context.Context) (int, error) {
	today := d.time.CurrentDate()
	// Players must never see hidden notes in the digest.
	playerCtx := WithActor(ctx, Actor{Name: "digest", Role: RolePlayer})
	notes, err := d.notes.GetNotesForDate(playerCtx, today)
	if err != nil {
		return 0, fmt.Errorf("notes for %s: %w", today.Key(), err)
	}

	var fresh []*domain.Note
	for _, n := range notes {
		first, err := d.marker.MarkNotified(ctx, n.ID, today.Key())
		if err != nil {
			return 0, fmt.Errorf("mark notified: %w", err)
		}
		if first {
			fresh = append(fresh, n)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	e := d.time.ActiveEngine()
	n := Notification{
		Title: fmt.Sprintf("%s, %s", FormatDay(e.Calendar(), today), e.FormatYear(today.Year)),
		Body:  FormatNoteList(fresh),
		Date:  today,
	}
	for _, note := range fresh {
		n.NoteIDs = append(n.NoteIDs, note.ID)
	}
	if err := d.sink.Notify(ctx, n); err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}
	appLog.Info("digest sent", "date", today.Key(), "notes", len(fresh))
	return len(fresh), nil
}

// FormatDay names the day within its year, such as "1 June" or a festival name.
func FormatDay(def domain.CalendarDefinition, d domain.CalendarDate) string {
	if d.IsIntercalary() {
		return d.Intercalary
	}
	if d.Month >= 1 && d.Month <= len(def.Months) {
		return fmt.Sprintf("%d %s", d.Day, def.Months[d.Month-1].Name)
	}
	return d.Key()
}

// FormatNoteList renders notes as an HTML list for chat messages.
func FormatNoteList(notes []*domain.Note) string {
	var sb strings.Builder
	for _, n := range notes {
		sb.WriteString("• <b>")
		sb.WriteString(html.EscapeString(n.Title))
		sb.WriteString("</b>")
		if !n.AllDay {
			t := n.StartDate.Time
			fmt.Fprintf(&sb, " %02d:%02d", t.Hour, t.Minute)
		}
		if n.Category != "" {
			fmt.Fprintf(&sb, " <i>[%s]</i>", html.EscapeString(n.Category))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
