package domain

import (
	"fmt"
	"strings"
)

// LeapRuleKind selects how leap years are detected.
type LeapRuleKind string

const (
	LeapNone      LeapRuleKind = "none"
	LeapGregorian LeapRuleKind = "gregorian"
	LeapCustom    LeapRuleKind = "custom"
)

// MaxLeapInterval bounds custom leap cycles so that per-cycle tables stay small.
const MaxLeapInterval = 10000

// CalendarDefinition describes the shape of a calendar. It is plain data;
// calendar.New turns it into an engine after validation.
type CalendarDefinition struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Months      []Month          `yaml:"months" json:"months"`
	Weekdays    []Weekday        `yaml:"weekdays" json:"weekdays"`
	Intercalary []IntercalaryDay `yaml:"intercalary,omitempty" json:"intercalary,omitempty"`
	Leap        LeapRule         `yaml:"leap" json:"leap"`
	Year        YearDecoration   `yaml:"year,omitempty" json:"year,omitempty"`
	Epoch       Epoch            `yaml:"epoch" json:"epoch"`
	Time        TimeUnits        `yaml:"time,omitempty" json:"time,omitempty"`
}

type Month struct {
	Name         string `yaml:"name" json:"name"`
	Abbreviation string `yaml:"abbreviation,omitempty" json:"abbreviation,omitempty"`
	Days         int    `yaml:"days" json:"days"`
}

type Weekday struct {
	Name         string `yaml:"name" json:"name"`
	Abbreviation string `yaml:"abbreviation,omitempty" json:"abbreviation,omitempty"`
}

// IntercalaryDay is a named run of days outside the month and weekday
// cycle, placed directly after month After.
type IntercalaryDay struct {
	Name         string `yaml:"name" json:"name"`
	After        int    `yaml:"after" json:"after"`
	Days         int    `yaml:"days,omitempty" json:"days,omitempty"`
	LeapYearOnly bool   `yaml:"leap_year_only,omitempty" json:"leap_year_only,omitempty"`
}

// Length returns the number of days in the run.
func (d IntercalaryDay) Length() int {
	if d.Days <= 0 {
		return 1
	}
	return d.Days
}

type LeapAdjustment struct {
	Month     int `yaml:"month" json:"month"`
	ExtraDays int `yaml:"extra_days" json:"extra_days"`
}

type LeapRule struct {
	Rule        LeapRuleKind     `yaml:"rule" json:"rule"`
	Interval    int              `yaml:"interval,omitempty" json:"interval,omitempty"`
	Offset      int              `yaml:"offset,omitempty" json:"offset,omitempty"`
	Adjustments []LeapAdjustment `yaml:"adjustments,omitempty" json:"adjustments,omitempty"`
}

// IsLeapYear applies the rule to year.
func (r LeapRule) IsLeapYear(year int) bool {
	switch r.Rule {
	case LeapGregorian:
		return year%4 == 0 && (year%100 != 0 || year%400 == 0)
	case LeapCustom:
		if r.Interval <= 0 {
			return false
		}
		return mod(year-r.Offset, r.Interval) == 0
	default:
		return false
	}
}

// Cycle returns the number of years after which the leap pattern repeats.
func (r LeapRule) Cycle() int {
	switch r.Rule {
	case LeapGregorian:
		return 400
	case LeapCustom:
		if r.Interval > 0 {
			return r.Interval
		}
	}
	return 1
}

// ExtraDays returns the days month gains in a leap year.
func (r LeapRule) ExtraDays(month int) int {
	n := 0
	for _, a := range r.Adjustments {
		if a.Month == month {
			n += a.ExtraDays
		}
	}
	return n
}

type YearDecoration struct {
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Suffix string `yaml:"suffix,omitempty" json:"suffix,omitempty"`
}

// Epoch is the ordinary date that world time zero falls on, at 00:00:00.
type Epoch struct {
	Year    int `yaml:"year" json:"year"`
	Month   int `yaml:"month" json:"month"`
	Day     int `yaml:"day" json:"day"`
	Weekday int `yaml:"weekday" json:"weekday"`
}

type TimeUnits struct {
	HoursPerDay      int `yaml:"hours_per_day,omitempty" json:"hours_per_day,omitempty"`
	MinutesPerHour   int `yaml:"minutes_per_hour,omitempty" json:"minutes_per_hour,omitempty"`
	SecondsPerMinute int `yaml:"seconds_per_minute,omitempty" json:"seconds_per_minute,omitempty"`
}

// Normalize fills zero time units with 24/60/60 and zero leap rules with none.
func (d *CalendarDefinition) Normalize() {
	if d.Time.HoursPerDay == 0 {
		d.Time.HoursPerDay = 24
	}
	if d.Time.MinutesPerHour == 0 {
		d.Time.MinutesPerHour = 60
	}
	if d.Time.SecondsPerMinute == 0 {
		d.Time.SecondsPerMinute = 60
	}
	if d.Leap.Rule == "" {
		d.Leap.Rule = LeapNone
	}
	for i := range d.Intercalary {
		if d.Intercalary[i].Days == 0 {
			d.Intercalary[i].Days = 1
		}
	}
}

// Validate reports a ConfigError for a structurally incomplete or
// inconsistent definition. It expects a normalized definition.
func (d *CalendarDefinition) Validate() error {
	const op = "calendar definition"
	fail := func(format string, args ...any) error {
		msg := fmt.Sprintf(format, args...)
		if d.ID != "" {
			msg = d.ID + ": " + msg
		}
		return ConfigError(op, msg)
	}

	if strings.TrimSpace(d.ID) == "" {
		return fail("id is required")
	}
	if len(d.Months) == 0 {
		return fail("at least one month is required")
	}
	for i, m := range d.Months {
		if strings.TrimSpace(m.Name) == "" {
			return fail("month %d has no name", i+1)
		}
		if m.Days < 1 {
			return fail("month %q has %d days", m.Name, m.Days)
		}
	}
	if len(d.Weekdays) == 0 {
		return fail("at least one weekday is required")
	}
	for i, w := range d.Weekdays {
		if strings.TrimSpace(w.Name) == "" {
			return fail("weekday %d has no name", i)
		}
	}

	switch d.Leap.Rule {
	case LeapNone, LeapGregorian:
	case LeapCustom:
		if d.Leap.Interval < 1 || d.Leap.Interval > MaxLeapInterval {
			return fail("custom leap interval %d outside [1, %d]", d.Leap.Interval, MaxLeapInterval)
		}
	default:
		return fail("unknown leap rule %q", d.Leap.Rule)
	}
	for _, a := range d.Leap.Adjustments {
		if a.Month < 1 || a.Month > len(d.Months) {
			return fail("leap adjustment month %d out of range", a.Month)
		}
		if d.Months[a.Month-1].Days+d.Leap.ExtraDays(a.Month) < 1 {
			return fail("leap adjustment leaves month %d without days", a.Month)
		}
	}

	seen := make(map[string]bool, len(d.Intercalary))
	for _, ic := range d.Intercalary {
		if strings.TrimSpace(ic.Name) == "" {
			return fail("intercalary day without a name")
		}
		if seen[ic.Name] {
			return fail("duplicate intercalary day %q", ic.Name)
		}
		seen[ic.Name] = true
		if ic.After < 1 || ic.After > len(d.Months) {
			return fail("intercalary day %q anchored after month %d", ic.Name, ic.After)
		}
		if ic.Days < 1 {
			return fail("intercalary day %q has %d days", ic.Name, ic.Days)
		}
		if ic.LeapYearOnly && d.Leap.Rule == LeapNone {
			return fail("intercalary day %q is leap-only but the calendar has no leap rule", ic.Name)
		}
	}

	if d.Time.HoursPerDay < 1 || d.Time.MinutesPerHour < 1 || d.Time.SecondsPerMinute < 1 {
		return fail("time units must be positive")
	}

	e := d.Epoch
	if e.Month < 1 || e.Month > len(d.Months) {
		return fail("epoch month %d out of range", e.Month)
	}
	days := d.Months[e.Month-1].Days
	if d.Leap.IsLeapYear(e.Year) {
		days += d.Leap.ExtraDays(e.Month)
	}
	if e.Day < 1 || e.Day > days {
		return fail("epoch day %d out of range for month %d", e.Day, e.Month)
	}
	if e.Weekday < 0 || e.Weekday >= len(d.Weekdays) {
		return fail("epoch weekday %d out of range", e.Weekday)
	}
	return nil
}

// SecondsPerDay returns the length of one day in world-time seconds.
func (d *CalendarDefinition) SecondsPerDay() int64 {
	return int64(d.Time.HoursPerDay) * int64(d.Time.MinutesPerHour) * int64(d.Time.SecondsPerMinute)
}

// FormatYear decorates year with the definition's prefix and suffix.
func (d *CalendarDefinition) FormatYear(year int) string {
	return fmt.Sprintf("%s%d%s", d.Year.Prefix, year, d.Year.Suffix)
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
