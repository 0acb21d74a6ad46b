// Package recurrence expands recurrence patterns into concrete calendar
// dates using a calendar engine for all stepping.
package recurrence

import (
	"fmt"
	"sort"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/domain"
)

const (
	// DefaultMaxIterations caps the candidates one expansion may generate.
	DefaultMaxIterations = 10000
)

// Expander generates occurrence dates for one calendar.
type Expander struct {
	engine        *calendar.Engine
	maxIterations int
}

// Option configures an Expander.
type Option func(*Expander)

// WithMaxIterations overrides DefaultMaxIterations. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(x *Expander) {
		if n > 0 {
			x.maxIterations = n
		}
	}
}

// New returns an expander over engine.
func New(engine *calendar.Engine, opts ...Option) *Expander {
	x := &Expander{engine: engine, maxIterations: DefaultMaxIterations}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Engine returns the calendar the expander steps through.
func (x *Expander) Engine() *calendar.Engine { return x.engine }

// MaxIterations returns the expansion ceiling.
func (x *Expander) MaxIterations() int { return x.maxIterations }

// Expand returns a lazy iterator over the occurrences of p anchored at
// anchor that fall on a day in [windowStart, windowEnd]. Occurrences before
// the window still count toward MaxOccurrences.
func (x *Expander) Expand(p domain.RecurrencePattern, anchor, windowStart, windowEnd domain.CalendarDate) *Iterator {
	it := &Iterator{x: x, pattern: *p.Clone(), anchor: anchor}
	it.initErr = it.init(windowStart, windowEnd)
	it.Reset()
	return it
}

// Occurrences drains Expand into a slice.
func (x *Expander) Occurrences(p domain.RecurrencePattern, anchor, windowStart, windowEnd domain.CalendarDate) ([]domain.CalendarDate, error) {
	return x.Expand(p, anchor, windowStart, windowEnd).Collect()
}

// Iterator walks the occurrences of one expansion in date order. It follows
// the bufio.Scanner protocol: call Next until it returns false, then Err.
type Iterator struct {
	x       *Expander
	pattern domain.RecurrencePattern
	anchor  domain.CalendarDate

	anchorDay   int64
	windowStart int64
	windowEnd   int64
	endDay      int64
	hasEnd      bool
	skip        map[string]bool
	weekdays    []int
	weekStart   int64 // ordinal day of the first day of the anchor's week
	weekday     int   // target weekday for by_weekday patterns
	ordinal     int
	initErr     error

	step       int64
	pending    []domain.CalendarDate
	emitted    int
	iterations int
	current    domain.CalendarDate
	done       bool
	err        error
}

func (it *Iterator) init(windowStart, windowEnd domain.CalendarDate) error {
	e := it.x.engine
	p := &it.pattern
	if err := p.Validate(e.WeekdayCount()); err != nil {
		return err
	}
	anchor, err := e.Complete(it.anchor)
	if err != nil {
		return err
	}
	it.anchor = anchor
	if it.anchorDay, err = e.DayNumber(anchor); err != nil {
		return err
	}
	if it.windowStart, err = e.DayNumber(windowStart); err != nil {
		return err
	}
	if it.windowEnd, err = e.DayNumber(windowEnd); err != nil {
		return err
	}
	if p.EndDate != nil {
		if it.endDay, err = e.DayNumber(*p.EndDate); err != nil {
			return err
		}
		it.hasEnd = true
	}
	it.skip = make(map[string]bool, len(p.SkipDates))
	for _, d := range p.SkipDates {
		it.skip[d.Key()] = true
	}

	switch p.Frequency {
	case domain.FrequencyWeekly:
		anchorOrd, err := e.OrdinalDay(anchor)
		if err != nil {
			return err
		}
		wd := e.DateFromOrdinalDay(anchorOrd).Weekday
		it.weekStart = anchorOrd - int64(wd)
		it.weekdays = uniqueSorted(p.Weekdays)
		if len(it.weekdays) == 0 {
			it.weekdays = []int{wd}
		}
	case domain.FrequencyMonthly, domain.FrequencyYearly:
		if p.PeriodType() != domain.ByWeekday {
			break
		}
		switch {
		case p.Weekday != nil:
			it.weekday = *p.Weekday
		case anchor.IsIntercalary():
			return domain.Invalid("recurrence pattern", "by_weekday patterns anchored on an intercalary day need an explicit weekday")
		default:
			it.weekday = anchor.Weekday
		}
		it.ordinal = p.Ordinal
		if it.ordinal == 0 {
			if anchor.IsIntercalary() {
				return domain.Invalid("recurrence pattern", "by_weekday patterns anchored on an intercalary day need an explicit ordinal")
			}
			it.ordinal = (anchor.Day-1)/e.WeekdayCount() + 1
		}
	}
	return nil
}

// Reset rewinds the iterator to the first occurrence.
func (it *Iterator) Reset() {
	it.step = 0
	it.pending = nil
	it.emitted = 0
	it.iterations = 0
	it.current = domain.CalendarDate{}
	it.done = false
	it.err = it.initErr
	if it.err == nil && it.pattern.MaxOccurrences == 0 {
		it.fastForward()
	}
}

// Next advances to the next occurrence inside the window.
func (it *Iterator) Next() bool {
	p := &it.pattern
	for {
		if it.done || it.err != nil {
			return false
		}
		if p.MaxOccurrences > 0 && it.emitted >= p.MaxOccurrences {
			it.done = true
			return false
		}
		it.iterations++
		if it.iterations > it.x.maxIterations {
			it.err = domain.ResourceExceeded("expand recurrence",
				fmt.Sprintf("more than %d candidate dates; narrow the window", it.x.maxIterations))
			return false
		}

		cand, ok, err := it.candidate()
		if err != nil {
			it.err = err
			return false
		}
		if !ok {
			continue
		}
		day, err := it.x.engine.DayNumber(cand)
		if err != nil {
			it.err = err
			return false
		}
		if day < it.anchorDay {
			continue
		}
		if (it.hasEnd && day > it.endDay) || day > it.windowEnd {
			it.done = true
			return false
		}
		if it.skip[cand.Key()] {
			continue
		}
		it.emitted++
		if day < it.windowStart {
			continue
		}
		it.current = cand
		return true
	}
}

// Date returns the occurrence found by the last successful Next.
func (it *Iterator) Date() domain.CalendarDate { return it.current }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Iterations reports how many candidates have been generated so far.
func (it *Iterator) Iterations() int { return it.iterations }

// Collect drains the iterator.
func (it *Iterator) Collect() ([]domain.CalendarDate, error) {
	var out []domain.CalendarDate
	for it.Next() {
		out = append(out, it.Date())
	}
	return out, it.Err()
}

// candidate produces the next candidate date. ok is false when the current
// step yields no date, as for a month without a fifth weekday.
func (it *Iterator) candidate() (domain.CalendarDate, bool, error) {
	e := it.x.engine
	p := &it.pattern
	interval := int64(p.Interval)

	switch p.Frequency {
	case domain.FrequencyDaily:
		d := e.DateFromDayNumber(it.anchorDay + it.step*interval)
		it.step++
		d.Time = it.anchor.Time
		return d, true, nil

	case domain.FrequencyWeekly:
		if len(it.pending) == 0 {
			start := it.weekStart + it.step*interval*int64(e.WeekdayCount())
			for _, wd := range it.weekdays {
				d := e.DateFromOrdinalDay(start + int64(wd))
				d.Time = it.anchor.Time
				it.pending = append(it.pending, d)
			}
			it.step++
		}
		d := it.pending[0]
		it.pending = it.pending[1:]
		return d, true, nil

	case domain.FrequencyMonthly:
		k := it.step * interval
		it.step++
		if p.PeriodType() == domain.ByWeekday {
			year, month := it.shiftMonth(k)
			return it.nthWeekday(year, month)
		}
		if k == 0 {
			return it.anchor, true, nil
		}
		d, err := e.AddMonths(it.anchor, int(k))
		return d, err == nil, err

	case domain.FrequencyYearly:
		k := it.step * interval
		it.step++
		year := it.anchor.Year + int(k)
		if p.PeriodType() == domain.ByWeekday {
			return it.nthWeekday(year, it.anchor.Month)
		}
		if k == 0 {
			return it.anchor, true, nil
		}
		if it.anchor.IsIntercalary() {
			return it.sameFestival(year)
		}
		d, err := e.AddYears(it.anchor, int(k))
		return d, err == nil, err
	}
	return domain.CalendarDate{}, false, domain.Invalid("expand recurrence", fmt.Sprintf("unknown frequency %q", p.Frequency))
}

func (it *Iterator) shiftMonth(k int64) (int, int) {
	months := int64(it.x.engine.MonthCount())
	total := int64(it.anchor.Month-1) + k
	q := total / months
	r := total % months
	if r < 0 {
		r += months
		q--
	}
	return it.anchor.Year + int(q), int(r) + 1
}

func (it *Iterator) nthWeekday(year, month int) (domain.CalendarDate, bool, error) {
	e := it.x.engine
	day, ok, err := e.NthWeekdayOfMonth(year, month, it.weekday, it.ordinal)
	if err != nil || !ok {
		return domain.CalendarDate{}, false, err
	}
	return domain.CalendarDate{Year: year, Month: month, Day: day, Weekday: it.weekday, Time: it.anchor.Time}, true, nil
}

// sameFestival repeats an intercalary anchor in year, skipping years in
// which the festival does not occur.
func (it *Iterator) sameFestival(year int) (domain.CalendarDate, bool, error) {
	days, err := it.x.engine.IntercalaryAfterMonth(year, it.anchor.Month)
	if err != nil {
		return domain.CalendarDate{}, false, err
	}
	for _, ic := range days {
		if ic.Name == it.anchor.Intercalary && it.anchor.Day <= ic.Length() {
			d := it.anchor
			d.Year = year
			return d, true, nil
		}
	}
	return domain.CalendarDate{}, false, nil
}

// fastForward skips steps that cannot reach the window. It is only used
// for series without an occurrence limit, where earlier occurrences need
// not be counted.
func (it *Iterator) fastForward() {
	if it.windowStart <= it.anchorDay {
		return
	}
	e := it.x.engine
	p := &it.pattern
	interval := int64(p.Interval)

	switch p.Frequency {
	case domain.FrequencyDaily:
		it.step = (it.windowStart - it.anchorDay) / interval
	case domain.FrequencyWeekly:
		ws := e.DateFromDayNumber(it.windowStart)
		ord, err := e.OrdinalDay(ws)
		if err != nil {
			return
		}
		if blocks := (ord - it.weekStart) / (interval * int64(e.WeekdayCount())); blocks > 0 {
			it.step = blocks
		}
	case domain.FrequencyMonthly:
		ws := e.DateFromDayNumber(it.windowStart)
		diff := int64(ws.Year-it.anchor.Year)*int64(e.MonthCount()) + int64(ws.Month-it.anchor.Month)
		if k := diff/interval - 1; k > 0 {
			it.step = k
		}
	case domain.FrequencyYearly:
		ws := e.DateFromDayNumber(it.windowStart)
		if k := int64(ws.Year-it.anchor.Year)/interval - 1; k > 0 {
			it.step = k
		}
	}
}

func uniqueSorted(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := append([]int(nil), in...)
	sort.Ints(out)
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}
