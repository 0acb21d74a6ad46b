// Package calendartest provides calendars for tests of packages built on
// the calendar engine.
package calendartest

import (
	"testing"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/domain"
)

// TwoMonthDefinition has a 30-day and a 31-day month; every 4th year the
// second month gains a day. Year 1 month 1 day 1 is world time zero.
func TwoMonthDefinition() domain.CalendarDefinition {
	return domain.CalendarDefinition{
		ID:   "two-month",
		Name: "Two Month",
		Months: []domain.Month{
			{Name: "Frost", Days: 30},
			{Name: "Thaw", Days: 31},
		},
		Weekdays: []domain.Weekday{
			{Name: "Moonday"}, {Name: "Tideday"}, {Name: "Windday"}, {Name: "Thunderday"},
			{Name: "Fireday"}, {Name: "Starday"}, {Name: "Sunday"},
		},
		Leap: domain.LeapRule{
			Rule:        domain.LeapCustom,
			Interval:    4,
			Adjustments: []domain.LeapAdjustment{{Month: 2, ExtraDays: 1}},
		},
		Epoch: domain.Epoch{Year: 1, Month: 1, Day: 1, Weekday: 0},
	}
}

// TwoMonth returns an engine for TwoMonthDefinition.
func TwoMonth(t testing.TB) *calendar.Engine {
	t.Helper()
	return mustNew(t, TwoMonthDefinition())
}

// Gregorian returns the embedded Gregorian preset.
func Gregorian(t testing.TB) *calendar.Engine {
	t.Helper()
	return preset(t, "gregorian")
}

// Harptos returns the embedded Harptos preset with its festival days.
func Harptos(t testing.TB) *calendar.Engine {
	t.Helper()
	return preset(t, "harptos")
}

// Date builds an ordinary date and fills its weekday.
func Date(t testing.TB, e *calendar.Engine, year, month, day int) domain.CalendarDate {
	t.Helper()
	d, err := e.Complete(domain.CalendarDate{Year: year, Month: month, Day: day})
	if err != nil {
		t.Fatalf("date %d-%d-%d: %v", year, month, day, err)
	}
	return d
}

func preset(t testing.TB, id string) *calendar.Engine {
	t.Helper()
	all, err := calendar.Builtin()
	if err != nil {
		t.Fatalf("load presets: %v", err)
	}
	for _, e := range all {
		if e.ID() == id {
			return e
		}
	}
	t.Fatalf("preset %q not found", id)
	return nil
}

func mustNew(t testing.TB, def domain.CalendarDefinition) *calendar.Engine {
	t.Helper()
	e, err := calendar.New(def)
	if err != nil {
		t.Fatalf("new calendar %s: %v", def.ID, err)
	}
	return e
}
