package domain

import "fmt"

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// PeriodType selects how monthly and yearly patterns pick their day.
type PeriodType string

const (
	ByDate    PeriodType = "by_date"
	ByWeekday PeriodType = "by_weekday"
)

// OrdinalLast selects the last matching weekday of a month.
const OrdinalLast = -1

// RecurrencePattern describes how a note repeats.
type RecurrencePattern struct {
	Frequency      Frequency      `json:"frequency"`
	Interval       int            `json:"interval"`
	Weekdays       []int          `json:"weekdays,omitempty"`
	MonthlyType    PeriodType     `json:"monthly_type,omitempty"`
	YearlyType     PeriodType     `json:"yearly_type,omitempty"`
	Ordinal        int            `json:"ordinal,omitempty"`
	Weekday        *int           `json:"weekday,omitempty"`
	EndDate        *CalendarDate  `json:"end_date,omitempty"`
	MaxOccurrences int            `json:"max_occurrences,omitempty"`
	SkipDates      []CalendarDate `json:"skip_dates,omitempty"`
}

// Clone returns a deep copy of the pattern.
func (p *RecurrencePattern) Clone() *RecurrencePattern {
	if p == nil {
		return nil
	}
	c := *p
	if p.Weekdays != nil {
		c.Weekdays = append([]int(nil), p.Weekdays...)
	}
	if p.Weekday != nil {
		w := *p.Weekday
		c.Weekday = &w
	}
	if p.EndDate != nil {
		e := *p.EndDate
		c.EndDate = &e
	}
	if p.SkipDates != nil {
		c.SkipDates = append([]CalendarDate(nil), p.SkipDates...)
	}
	return &c
}

// PeriodType returns the monthly or yearly selection mode, by_date when unset.
func (p *RecurrencePattern) PeriodType() PeriodType {
	t := p.MonthlyType
	if p.Frequency == FrequencyYearly {
		t = p.YearlyType
	}
	if t == "" {
		return ByDate
	}
	return t
}

// Validate checks the pattern against a calendar with weekdayCount weekdays.
func (p *RecurrencePattern) Validate(weekdayCount int) error {
	const op = "recurrence pattern"
	switch p.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
	default:
		return Invalid(op, fmt.Sprintf("unknown frequency %q", p.Frequency))
	}
	if p.Interval < 1 {
		return RangeError(op, fmt.Sprintf("interval %d must be at least 1", p.Interval))
	}
	if p.MaxOccurrences < 0 {
		return RangeError(op, "max occurrences must not be negative")
	}
	for _, w := range p.Weekdays {
		if w < 0 || w >= weekdayCount {
			return RangeError(op, fmt.Sprintf("weekday %d out of range", w))
		}
	}
	if p.Weekday != nil && (*p.Weekday < 0 || *p.Weekday >= weekdayCount) {
		return RangeError(op, fmt.Sprintf("weekday %d out of range", *p.Weekday))
	}
	for _, t := range []PeriodType{p.MonthlyType, p.YearlyType} {
		switch t {
		case "", ByDate, ByWeekday:
		default:
			return Invalid(op, fmt.Sprintf("unknown period type %q", t))
		}
	}
	if p.Ordinal != 0 && p.Ordinal != OrdinalLast && (p.Ordinal < 1 || p.Ordinal > 5) {
		return RangeError(op, fmt.Sprintf("ordinal %d outside 1..5 or last", p.Ordinal))
	}
	return nil
}
