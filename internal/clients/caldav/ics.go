package caldav

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/index"
	"github.com/tazhate/worldcal/internal/recurrence"
	"github.com/tazhate/worldcal/internal/service"
)

const (
	productID = "-//worldcal//CalDAV//EN"
	uidDomain = "@worldcal"

	// DefaultHorizon is how many days of a series are listed as RDATEs when
	// the pattern has no RRULE form.
	DefaultHorizon = 366

	secondsPerRealDay = 24 * 60 * 60
)

var unixEpoch = time.Unix(0, 0).UTC()

// Project maps a world date onto real time. Day numbers map one to one onto
// days since 1970-01-01 and the time of day is scaled to 24 hours, so the
// Gregorian preset projects onto itself.
func Project(e *calendar.Engine, d domain.CalendarDate) (time.Time, error) {
	day, err := e.DayNumber(d)
	if err != nil {
		return time.Time{}, err
	}
	wt, err := e.DateToWorldTime(d)
	if err != nil {
		return time.Time{}, err
	}
	sod := (wt - day*e.SecondsPerDay()) * secondsPerRealDay / e.SecondsPerDay()
	return time.Unix(day*secondsPerRealDay+sod, 0).UTC(), nil
}

// Aligned reports whether e agrees with the proleptic Gregorian calendar
// under Project, so that RRULEs evaluate the same way on both sides.
func Aligned(e *calendar.Engine) bool {
	def := e.Calendar()
	if e.SecondsPerDay() != secondsPerRealDay || e.WeekdayCount() != 7 || e.MonthCount() != 12 || len(def.Intercalary) > 0 {
		return false
	}
	for n := int64(-800000); n <= 800000; n += 9973 {
		d := e.DateFromDayNumber(n)
		t := unixEpoch.AddDate(0, 0, int(n))
		if d.IsIntercalary() || d.Year != t.Year() || d.Month != int(t.Month()) || d.Day != t.Day() {
			return false
		}
		wd, err := e.Weekday(d.Year, d.Month, d.Day)
		if err != nil || wd != int(t.Weekday()) {
			return false
		}
	}
	return true
}

var rruleWeekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RRule renders p as RRULE text. ok is false when the pattern has no exact
// RRULE form on e; callers then list the dates instead.
func RRule(e *calendar.Engine, p *domain.RecurrencePattern, anchor domain.CalendarDate) (rule string, ok bool, err error) {
	if err := p.Validate(e.WeekdayCount()); err != nil {
		return "", false, err
	}
	if anchor, err = e.Complete(anchor); err != nil {
		return "", false, err
	}
	// COUNT in RRULE includes EXDATEs, skipped dates here do not.
	if p.MaxOccurrences > 0 && len(p.SkipDates) > 0 {
		return "", false, nil
	}
	if p.Frequency != domain.FrequencyDaily && !Aligned(e) {
		return "", false, nil
	}

	opt := rrule.ROption{
		Interval: p.Interval,
		Count:    p.MaxOccurrences,
	}
	if p.EndDate != nil {
		end, err := Project(e, p.EndDate.StartOfDay())
		if err != nil {
			return "", false, err
		}
		opt.Until = end.Add((secondsPerRealDay - 1) * time.Second)
	}

	switch p.Frequency {
	case domain.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case domain.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Wkst = rrule.SU
		days := p.Weekdays
		if len(days) == 0 {
			days = []int{anchor.Weekday}
		}
		for _, wd := range days {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case domain.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if p.PeriodType() == domain.ByWeekday {
			opt.Byweekday = []rrule.Weekday{nthWeekday(p, anchor)}
		} else {
			clampToMonth(&opt, anchor.Day)
		}
	case domain.FrequencyYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{anchor.Month}
		if p.PeriodType() == domain.ByWeekday {
			opt.Byweekday = []rrule.Weekday{nthWeekday(p, anchor)}
		} else {
			clampToMonth(&opt, anchor.Day)
		}
	}

	if _, err := rrule.NewRRule(opt); err != nil {
		return "", false, fmt.Errorf("build rrule: %w", err)
	}
	return opt.RRuleString(), true, nil
}

// clampToMonth picks day, or the last day of shorter months.
func clampToMonth(opt *rrule.ROption, day int) {
	if day <= 28 {
		opt.Bymonthday = []int{day}
		return
	}
	for d := 28; d <= day; d++ {
		opt.Bymonthday = append(opt.Bymonthday, d)
	}
	opt.Bysetpos = []int{-1}
}

func nthWeekday(p *domain.RecurrencePattern, anchor domain.CalendarDate) rrule.Weekday {
	wd := anchor.Weekday
	if p.Weekday != nil {
		wd = *p.Weekday
	}
	n := p.Ordinal
	if n == 0 {
		n = (anchor.Day-1)/7 + 1
	}
	return rruleWeekdays[wd].Nth(n)
}

// NoteCalendar renders n as a VCALENDAR holding one VEVENT. Series without
// an RRULE form list their dates within horizon days of the anchor.
func NoteCalendar(e *calendar.Engine, n *domain.Note, horizon int, stamp time.Time) (*ical.Calendar, error) {
	start, err := e.Complete(n.StartDate)
	if err != nil {
		return nil, err
	}
	if n.AllDay {
		start = start.StartOfDay()
	}
	dtStart, err := Project(e, start)
	if err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, n.ID+uidDomain)
	vevent.Props.SetText(ical.PropSummary, n.Title)
	vevent.Props.SetText(ical.PropDescription, describe(e, start, n))
	if n.Category != "" {
		vevent.Props.SetText(ical.PropCategories, n.Category)
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	if !n.UpdatedAt.IsZero() {
		vevent.Props.SetDateTime(ical.PropLastModified, n.UpdatedAt.UTC())
	}

	if n.AllDay {
		vevent.Props.SetDate(ical.PropDateTimeStart, dtStart)
		last := dtStart
		if n.EndDate != nil {
			if last, err = Project(e, n.EndDate.StartOfDay()); err != nil {
				return nil, err
			}
		}
		vevent.Props.SetDate(ical.PropDateTimeEnd, last.AddDate(0, 0, 1))
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, dtStart)
		if n.EndDate != nil {
			end, err := Project(e, *n.EndDate)
			if err != nil {
				return nil, err
			}
			vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
		}
	}

	if n.Recurrence != nil {
		if err := addRecurrence(vevent, e, n, start, horizon); err != nil {
			return nil, err
		}
	}

	cal.Children = append(cal.Children, vevent.Component)
	return cal, nil
}

func addRecurrence(vevent *ical.Event, e *calendar.Engine, n *domain.Note, start domain.CalendarDate, horizon int) error {
	rule, ok, err := RRule(e, n.Recurrence, start)
	if err != nil {
		return err
	}
	if ok {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = rule
		vevent.Props.Set(prop)
		for _, skip := range n.Recurrence.SkipDates {
			skip.Time = start.Time
			t, err := Project(e, skip)
			if err != nil {
				return err
			}
			addDateProp(vevent, ical.PropExceptionDates, t, n.AllDay)
		}
		return nil
	}

	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	first, err := e.DayNumber(start)
	if err != nil {
		return err
	}
	dates, err := recurrence.New(e).Occurrences(*n.Recurrence, start, start, e.DateFromDayNumber(first+int64(horizon)))
	if err != nil {
		return err
	}
	for _, d := range dates {
		if d.SameDay(start) {
			continue
		}
		t, err := Project(e, d)
		if err != nil {
			return err
		}
		addDateProp(vevent, ical.PropRecurrenceDates, t, n.AllDay)
	}
	return nil
}

func addDateProp(vevent *ical.Event, name string, t time.Time, allDay bool) {
	prop := ical.NewProp(name)
	if allDay {
		prop.SetDate(t)
	} else {
		prop.SetDateTime(t)
	}
	vevent.Props.Add(prop)
}

// describe prefixes the note text with its world date, which the projected
// DTSTART does not show for invented calendars.
func describe(e *calendar.Engine, d domain.CalendarDate, n *domain.Note) string {
	def := e.Calendar()
	when := service.FormatDay(def, d) + ", " + e.FormatYear(d.Year)
	if !n.AllDay {
		when += fmt.Sprintf(" %02d:%02d", d.Time.Hour, d.Time.Minute)
	}
	text := index.PlainText(n.Content)
	if text == "" {
		return when
	}
	return when + "\n\n" + text
}
