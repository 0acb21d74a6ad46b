package caldav

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/worldcal/internal/calendar/calendartest"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/recurrence"
)

func intPtr(v int) *int { return &v }

func TestProjectGregorianIsIdentity(t *testing.T) {
	e := calendartest.Gregorian(t)
	d := calendartest.Date(t, e, 2024, 2, 29)
	d.Time = domain.TimeOfDay{Hour: 10, Minute: 30, Second: 15}

	got, err := Project(e, d)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 2, 29, 10, 30, 15, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Project = %v, want %v", got, want)
	}

	old, err := Project(e, calendartest.Date(t, e, 1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if old.Year() != 1 || old.Month() != time.January || old.Day() != 1 {
		t.Fatalf("Project(0001-01-01) = %v", old)
	}
}

func TestAligned(t *testing.T) {
	if !Aligned(calendartest.Gregorian(t)) {
		t.Error("gregorian preset is not aligned")
	}
	if Aligned(calendartest.Harptos(t)) {
		t.Error("harptos is aligned")
	}
	if Aligned(calendartest.TwoMonth(t)) {
		t.Error("two-month calendar is aligned")
	}
}

// TestRRuleMatchesExpander evaluates the rendered RRULE with rrule-go and
// compares it with the expander on the Gregorian preset.
func TestRRuleMatchesExpander(t *testing.T) {
	e := calendartest.Gregorian(t)
	at := func(y, m, d, hh, mm int) domain.CalendarDate {
		date := calendartest.Date(t, e, y, m, d)
		date.Time = domain.TimeOfDay{Hour: hh, Minute: mm}
		return date
	}
	until := calendartest.Date(t, e, 2024, 2, 15)

	tests := []struct {
		name    string
		anchor  domain.CalendarDate
		pattern domain.RecurrencePattern
		rule    string
	}{
		{"daily", at(2024, 1, 1, 9, 30), domain.RecurrencePattern{Frequency: domain.FrequencyDaily, Interval: 3}, "FREQ=DAILY;INTERVAL=3"},
		{"daily until", at(2024, 1, 1, 0, 0), domain.RecurrencePattern{Frequency: domain.FrequencyDaily, Interval: 1, EndDate: &until}, "UNTIL=20240215T235959Z"},
		{"weekly pair", at(2024, 1, 3, 0, 0), domain.RecurrencePattern{Frequency: domain.FrequencyWeekly, Interval: 2, Weekdays: []int{1, 3}}, "BYDAY=MO,WE"},
		{"weekly count", at(2024, 1, 5, 18, 0), domain.RecurrencePattern{Frequency: domain.FrequencyWeekly, Interval: 1, MaxOccurrences: 10}, "COUNT=10"},
		{"monthly clamped", at(2024, 1, 31, 0, 0), domain.RecurrencePattern{Frequency: domain.FrequencyMonthly, Interval: 1}, "BYSETPOS=-1"},
		{"monthly second tuesday", at(2024, 1, 9, 0, 0), domain.RecurrencePattern{Frequency: domain.FrequencyMonthly, Interval: 2, MonthlyType: domain.ByWeekday}, "BYDAY=+2TU"},
		{"monthly last friday", at(2024, 1, 26, 0, 0), domain.RecurrencePattern{Frequency: domain.FrequencyMonthly, Interval: 1, MonthlyType: domain.ByWeekday, Weekday: intPtr(5), Ordinal: domain.OrdinalLast}, "BYDAY=-1FR"},
		{"yearly leap day", at(2024, 2, 29, 0, 0), domain.RecurrencePattern{Frequency: domain.FrequencyYearly, Interval: 1}, "BYMONTH=2"},
		{"yearly fourth thursday", at(2024, 11, 28, 0, 0), domain.RecurrencePattern{Frequency: domain.FrequencyYearly, Interval: 1, YearlyType: domain.ByWeekday, Weekday: intPtr(4), Ordinal: 4}, "BYDAY=+4TH"},
	}

	from := calendartest.Date(t, e, 2024, 1, 1)
	to := calendartest.Date(t, e, 2026, 12, 31)
	fromTime, _ := Project(e, from)
	toTime, _ := Project(e, to)
	toTime = toTime.Add(24*time.Hour - time.Second)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok, err := RRule(e, &tt.pattern, tt.anchor)
			if err != nil || !ok {
				t.Fatalf("RRule = %q, %v, %v", text, ok, err)
			}
			if !strings.Contains(text, tt.rule) {
				t.Errorf("rule %q does not contain %q", text, tt.rule)
			}

			opt, err := rrule.StrToROption(text)
			if err != nil {
				t.Fatalf("parse %q: %v", text, err)
			}
			opt.Dtstart, _ = Project(e, tt.anchor)
			r, err := rrule.NewRRule(*opt)
			if err != nil {
				t.Fatal(err)
			}
			got := r.Between(fromTime, toTime, true)

			dates, err := recurrence.New(e).Occurrences(tt.pattern, tt.anchor, from, to)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(dates) {
				t.Fatalf("rrule gives %d dates, expander %d", len(got), len(dates))
			}
			for i, d := range dates {
				want, _ := Project(e, d)
				if !got[i].Equal(want) {
					t.Fatalf("occurrence %d: rrule %v, expander %v", i, got[i], want)
				}
			}
		})
	}
}

func TestRRuleFallsBack(t *testing.T) {
	harptos := calendartest.Harptos(t)
	anchor := calendartest.Date(t, harptos, 1492, 3, 1)

	if _, ok, err := RRule(harptos, &domain.RecurrencePattern{Frequency: domain.FrequencyWeekly, Interval: 1}, anchor); err != nil || ok {
		t.Errorf("weekly on harptos: ok=%v err=%v", ok, err)
	}
	if rule, ok, err := RRule(harptos, &domain.RecurrencePattern{Frequency: domain.FrequencyDaily, Interval: 5}, anchor); err != nil || !ok || !strings.HasPrefix(rule, "FREQ=DAILY;INTERVAL=5") {
		t.Errorf("daily on harptos = %q, %v, %v", rule, ok, err)
	}

	g := calendartest.Gregorian(t)
	skips := &domain.RecurrencePattern{
		Frequency:      domain.FrequencyDaily,
		Interval:       1,
		MaxOccurrences: 3,
		SkipDates:      []domain.CalendarDate{calendartest.Date(t, g, 2024, 1, 2)},
	}
	if _, ok, _ := RRule(g, skips, calendartest.Date(t, g, 2024, 1, 1)); ok {
		t.Error("count with skipped dates rendered as RRULE")
	}

	if _, _, err := RRule(g, &domain.RecurrencePattern{Frequency: "hourly", Interval: 1}, calendartest.Date(t, g, 2024, 1, 1)); domain.KindOf(err) != domain.KindInvalid {
		t.Errorf("bad frequency err = %v", err)
	}
}

func event(t *testing.T, cal *ical.Calendar) *ical.Component {
	t.Helper()
	if len(cal.Children) != 1 || cal.Children[0].Name != ical.CompEvent {
		t.Fatalf("calendar children = %+v", cal.Children)
	}
	return cal.Children[0]
}

func TestNoteCalendarAllDay(t *testing.T) {
	e := calendartest.Gregorian(t)
	end := calendartest.Date(t, e, 2024, 1, 12)
	n := &domain.Note{
		ID:            "n1",
		Title:         "Harvest fair",
		Content:       "Bring **apples**",
		StartDate:     calendartest.Date(t, e, 2024, 1, 10),
		EndDate:       &end,
		AllDay:        true,
		Category:      "festival",
		PlayerVisible: true,
		Recurrence: &domain.RecurrencePattern{
			Frequency: domain.FrequencyYearly,
			Interval:  1,
			SkipDates: []domain.CalendarDate{calendartest.Date(t, e, 2025, 1, 10)},
		},
	}

	cal, err := NoteCalendar(e, n, 0, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	ev := event(t, cal)

	if uid := ev.Props.Get(ical.PropUID); uid == nil || uid.Value != "n1@worldcal" {
		t.Errorf("UID = %+v", uid)
	}
	start := ev.Props.Get(ical.PropDateTimeStart)
	if start == nil || start.Value != "20240110" || start.Params.Get(ical.ParamValue) != string(ical.ValueDate) {
		t.Errorf("DTSTART = %+v", start)
	}
	if dtEnd := ev.Props.Get(ical.PropDateTimeEnd); dtEnd == nil || dtEnd.Value != "20240113" {
		t.Errorf("DTEND = %+v", dtEnd)
	}
	if rr := ev.Props.Get(ical.PropRecurrenceRule); rr == nil || !strings.HasPrefix(rr.Value, "FREQ=YEARLY") {
		t.Errorf("RRULE = %+v", rr)
	}
	if ex := ev.Props[ical.PropExceptionDates]; len(ex) != 1 || ex[0].Value != "20250110" {
		t.Errorf("EXDATE = %+v", ex)
	}
	desc, err := ev.Props.Text(ical.PropDescription)
	if err != nil || desc != "10 January, 2024\n\nBring apples" {
		t.Errorf("DESCRIPTION = %q, %v", desc, err)
	}
}

func TestNoteCalendarListsDatesWithoutRRule(t *testing.T) {
	e := calendartest.Harptos(t)
	n := &domain.Note{
		ID:         "n2",
		Title:      "Council",
		StartDate:  calendartest.Date(t, e, 1492, 3, 1),
		Recurrence: &domain.RecurrencePattern{Frequency: domain.FrequencyWeekly, Interval: 1},
	}
	n.StartDate.Time = domain.TimeOfDay{Hour: 12}

	cal, err := NoteCalendar(e, n, 30, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	ev := event(t, cal)
	if ev.Props.Get(ical.PropRecurrenceRule) != nil {
		t.Error("RRULE on a ten-day week")
	}
	if got := len(ev.Props[ical.PropRecurrenceDates]); got != 3 {
		t.Errorf("RDATE count = %d, want 3", got)
	}
	desc, _ := ev.Props.Text(ical.PropDescription)
	if !strings.HasPrefix(desc, "1 Ches, 1492 DR 12:00") {
		t.Errorf("DESCRIPTION = %q", desc)
	}
}
