package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeOfDay is the clock part of a CalendarDate.
type TimeOfDay struct {
	Hour   int `json:"hour" yaml:"hour"`
	Minute int `json:"minute" yaml:"minute"`
	Second int `json:"second" yaml:"second"`
}

// CalendarDate is a point in time under one calendar definition.
//
// Ordinary dates have an empty Intercalary. For intercalary dates Month is
// the anchor month, Day is the 1-based position inside the intercalary run
// and Weekday carries no meaning.
type CalendarDate struct {
	Year        int       `json:"year" yaml:"year"`
	Month       int       `json:"month" yaml:"month"`
	Day         int       `json:"day" yaml:"day"`
	Weekday     int       `json:"weekday" yaml:"weekday"`
	Time        TimeOfDay `json:"time" yaml:"time"`
	Intercalary string    `json:"intercalary,omitempty" yaml:"intercalary,omitempty"`
}

// IsIntercalary reports whether the date falls on an intercalary day.
func (d CalendarDate) IsIntercalary() bool { return d.Intercalary != "" }

// Equal compares the calendar position and the time of day. Weekday is
// derived data and is ignored.
func (d CalendarDate) Equal(o CalendarDate) bool {
	return d.SameDay(o) && d.Time == o.Time
}

// SameDay compares the calendar position only.
func (d CalendarDate) SameDay(o CalendarDate) bool {
	return d.Year == o.Year && d.Month == o.Month && d.Day == o.Day && d.Intercalary == o.Intercalary
}

// StartOfDay returns d with the time of day cleared.
func (d CalendarDate) StartOfDay() CalendarDate {
	d.Time = TimeOfDay{}
	return d
}

// Key is the canonical date key. Ordinary and intercalary dates use
// disjoint key spaces.
func (d CalendarDate) Key() string {
	if d.IsIntercalary() {
		return fmt.Sprintf("%d/%d/!%s/%d", d.Year, d.Month, d.Intercalary, d.Day)
	}
	return fmt.Sprintf("%d-%d-%d", d.Year, d.Month, d.Day)
}

func (d CalendarDate) String() string {
	clock := fmt.Sprintf("%02d:%02d:%02d", d.Time.Hour, d.Time.Minute, d.Time.Second)
	if d.IsIntercalary() {
		return fmt.Sprintf("%d %s (after month %d) day %d %s", d.Year, d.Intercalary, d.Month, d.Day, clock)
	}
	return fmt.Sprintf("%d-%02d-%02d %s", d.Year, d.Month, d.Day, clock)
}

// ParseKey parses a key produced by Key. The time of day is zero.
func ParseKey(key string) (CalendarDate, error) {
	if strings.Contains(key, "/!") {
		// Festival names may contain "/", so the day follows the last one.
		head, rest, _ := strings.Cut(key, "/!")
		sep := strings.LastIndex(rest, "/")
		ym := strings.Split(head, "/")
		if len(ym) != 2 || sep <= 0 {
			return CalendarDate{}, Invalid("parse date key", key)
		}
		y, err1 := strconv.Atoi(ym[0])
		m, err2 := strconv.Atoi(ym[1])
		day, err3 := strconv.Atoi(rest[sep+1:])
		if err1 != nil || err2 != nil || err3 != nil {
			return CalendarDate{}, Invalid("parse date key", key)
		}
		return CalendarDate{Year: y, Month: m, Day: day, Intercalary: rest[:sep]}, nil
	}

	// Years may be negative, so split from the right.
	last := strings.LastIndex(key, "-")
	if last <= 0 {
		return CalendarDate{}, Invalid("parse date key", key)
	}
	mid := strings.LastIndex(key[:last], "-")
	if mid <= 0 {
		return CalendarDate{}, Invalid("parse date key", key)
	}
	y, err1 := strconv.Atoi(key[:mid])
	m, err2 := strconv.Atoi(key[mid+1 : last])
	day, err3 := strconv.Atoi(key[last+1:])
	if err1 != nil || err2 != nil || err3 != nil {
		return CalendarDate{}, Invalid("parse date key", key)
	}
	return CalendarDate{Year: y, Month: m, Day: day}, nil
}
