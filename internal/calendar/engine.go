// Package calendar implements date arithmetic over user-defined calendars.
//
// An Engine is built once from a validated CalendarDefinition and is
// immutable afterwards, so it is safe for concurrent use.
package calendar

import (
	"fmt"
	"sort"

	"github.com/tazhate/worldcal/internal/domain"
)

// segment is one contiguous run of days inside a year: a month or an
// intercalary run.
type segment struct {
	month       int // month number; the anchor month for intercalary runs
	intercalary int // index into Intercalary, -1 for months
	start       int // day-of-year offset of the first day
	ordStart    int // weekday-counting days before the first day
	length      int
}

type yearLayout struct {
	segments []segment
	monthSeg []int // month number -> segment index; index 0 unused
	days     int
	ordinary int
}

// Engine converts between world time and calendar dates.
type Engine struct {
	def           domain.CalendarDefinition
	secondsPerDay int64

	layouts [2]yearLayout // common, leap

	cycle         int     // years per leap cycle
	cycleDays     int64   // all days in one cycle
	cycleOrdinary int64   // weekday-counting days in one cycle
	prefix        []int64 // days from the epoch year start to year epoch+r
	prefixOrd     []int64

	epochDay int64 // day-of-year of the epoch in the epoch year
	epochOrd int64
}

// New validates def and builds an engine for it.
func New(def domain.CalendarDefinition) (*Engine, error) {
	def = cloneDefinition(def)
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		def:           def,
		secondsPerDay: def.SecondsPerDay(),
		cycle:         def.Leap.Cycle(),
	}
	e.layouts[0] = e.buildLayout(false)
	e.layouts[1] = e.buildLayout(true)

	e.prefix = make([]int64, e.cycle+1)
	e.prefixOrd = make([]int64, e.cycle+1)
	for r := 0; r < e.cycle; r++ {
		l := e.layout(def.Epoch.Year + r)
		e.prefix[r+1] = e.prefix[r] + int64(l.days)
		e.prefixOrd[r+1] = e.prefixOrd[r] + int64(l.ordinary)
	}
	e.cycleDays = e.prefix[e.cycle]
	e.cycleOrdinary = e.prefixOrd[e.cycle]

	l := e.layout(def.Epoch.Year)
	seg := l.segments[l.monthSeg[def.Epoch.Month]]
	e.epochDay = int64(seg.start + def.Epoch.Day - 1)
	e.epochOrd = int64(seg.ordStart + def.Epoch.Day - 1)
	return e, nil
}

func (e *Engine) buildLayout(leap bool) yearLayout {
	l := yearLayout{monthSeg: make([]int, len(e.def.Months)+1)}
	for i, m := range e.def.Months {
		month := i + 1
		length := m.Days
		if leap {
			length += e.def.Leap.ExtraDays(month)
		}
		l.monthSeg[month] = len(l.segments)
		l.segments = append(l.segments, segment{
			month:       month,
			intercalary: -1,
			start:       l.days,
			ordStart:    l.ordinary,
			length:      length,
		})
		l.days += length
		l.ordinary += length

		for j, ic := range e.def.Intercalary {
			if ic.After != month || (ic.LeapYearOnly && !leap) {
				continue
			}
			l.segments = append(l.segments, segment{
				month:       month,
				intercalary: j,
				start:       l.days,
				ordStart:    l.ordinary,
				length:      ic.Length(),
			})
			l.days += ic.Length()
		}
	}
	return l
}

func (e *Engine) layout(year int) *yearLayout {
	if e.def.Leap.IsLeapYear(year) {
		return &e.layouts[1]
	}
	return &e.layouts[0]
}

// Calendar returns a copy of the definition the engine was built from.
func (e *Engine) Calendar() domain.CalendarDefinition {
	return cloneDefinition(e.def)
}

// ID returns the calendar id.
func (e *Engine) ID() string { return e.def.ID }

// WeekdayCount is the length of the weekday cycle.
func (e *Engine) WeekdayCount() int { return len(e.def.Weekdays) }

// MonthCount is the number of months per year.
func (e *Engine) MonthCount() int { return len(e.def.Months) }

// SecondsPerDay is the length of a day in world-time seconds.
func (e *Engine) SecondsPerDay() int64 { return e.secondsPerDay }

// IsLeapYear applies the calendar's leap rule.
func (e *Engine) IsLeapYear(year int) bool { return e.def.Leap.IsLeapYear(year) }

// YearLength returns the number of days in year, intercalary days included.
func (e *Engine) YearLength(year int) int { return e.layout(year).days }

// FormatYear decorates year with the calendar's prefix and suffix.
func (e *Engine) FormatYear(year int) string { return e.def.FormatYear(year) }

// WeekdayCycleYears returns the number of years after which every date
// falls on the same weekday again.
func (e *Engine) WeekdayCycleYears() int {
	n := int64(e.WeekdayCount())
	k := n / gcd(e.cycleOrdinary%n, n)
	return e.cycle * int(k)
}

// MonthLength returns the number of days in month of year.
func (e *Engine) MonthLength(month, year int) (int, error) {
	if month < 1 || month > len(e.def.Months) {
		return 0, domain.RangeError("month length", fmt.Sprintf("month %d outside 1..%d", month, len(e.def.Months)))
	}
	l := e.layout(year)
	return l.segments[l.monthSeg[month]].length, nil
}

// Weekday returns the 0-based weekday of an ordinary date.
func (e *Engine) Weekday(year, month, day int) (int, error) {
	d := domain.CalendarDate{Year: year, Month: month, Day: day}
	ord, err := e.OrdinalDay(d)
	if err != nil {
		return 0, err
	}
	return e.weekdayOfOrdinal(ord), nil
}

func (e *Engine) weekdayOfOrdinal(ord int64) int {
	n := int64(e.WeekdayCount())
	return int(floorMod(ord+int64(e.def.Epoch.Weekday), n))
}

// IntercalaryAfterMonth lists the intercalary runs that follow month in year.
func (e *Engine) IntercalaryAfterMonth(year, month int) ([]domain.IntercalaryDay, error) {
	if month < 1 || month > len(e.def.Months) {
		return nil, domain.RangeError("intercalary days", fmt.Sprintf("month %d outside 1..%d", month, len(e.def.Months)))
	}
	leap := e.IsLeapYear(year)
	var out []domain.IntercalaryDay
	for _, ic := range e.def.Intercalary {
		if ic.After == month && (!ic.LeapYearOnly || leap) {
			out = append(out, ic)
		}
	}
	return out, nil
}

// segmentOf locates the segment of a date and checks its components.
func (e *Engine) segmentOf(d domain.CalendarDate) (*yearLayout, segment, error) {
	const op = "date"
	if d.Month < 1 || d.Month > len(e.def.Months) {
		return nil, segment{}, domain.RangeError(op, fmt.Sprintf("month %d outside 1..%d", d.Month, len(e.def.Months)))
	}
	l := e.layout(d.Year)
	if !d.IsIntercalary() {
		seg := l.segments[l.monthSeg[d.Month]]
		if d.Day < 1 || d.Day > seg.length {
			return nil, segment{}, domain.RangeError(op, fmt.Sprintf("day %d outside 1..%d of month %d in year %d", d.Day, seg.length, d.Month, d.Year))
		}
		return l, seg, nil
	}
	for _, seg := range l.segments {
		if seg.intercalary < 0 || seg.month != d.Month || e.def.Intercalary[seg.intercalary].Name != d.Intercalary {
			continue
		}
		if d.Day < 1 || d.Day > seg.length {
			return nil, segment{}, domain.RangeError(op, fmt.Sprintf("day %d outside intercalary run %q", d.Day, d.Intercalary))
		}
		return l, seg, nil
	}
	return nil, segment{}, domain.RangeError(op, fmt.Sprintf("no intercalary day %q after month %d in year %d", d.Intercalary, d.Month, d.Year))
}

// Validate checks every component of d against the calendar.
func (e *Engine) Validate(d domain.CalendarDate) error {
	if _, _, err := e.segmentOf(d); err != nil {
		return err
	}
	t := d.Time
	if t.Hour < 0 || t.Hour >= e.def.Time.HoursPerDay ||
		t.Minute < 0 || t.Minute >= e.def.Time.MinutesPerHour ||
		t.Second < 0 || t.Second >= e.def.Time.SecondsPerMinute {
		return domain.RangeError("date", fmt.Sprintf("time %02d:%02d:%02d outside the day", t.Hour, t.Minute, t.Second))
	}
	return nil
}

// Complete validates d and fills in its derived weekday.
func (e *Engine) Complete(d domain.CalendarDate) (domain.CalendarDate, error) {
	if err := e.Validate(d); err != nil {
		return d, err
	}
	if d.IsIntercalary() {
		d.Weekday = 0
		return d, nil
	}
	wd, err := e.Weekday(d.Year, d.Month, d.Day)
	if err != nil {
		return d, err
	}
	d.Weekday = wd
	return d, nil
}

func (e *Engine) daysBeforeYear(year int) int64 {
	n := int64(year - e.def.Epoch.Year)
	c := int64(e.cycle)
	q := floorDiv(n, c)
	return q*e.cycleDays + e.prefix[n-q*c]
}

func (e *Engine) ordinaryBeforeYear(year int) int64 {
	n := int64(year - e.def.Epoch.Year)
	c := int64(e.cycle)
	q := floorDiv(n, c)
	return q*e.cycleOrdinary + e.prefixOrd[n-q*c]
}

// DayNumber returns the number of days between the epoch and d, counting
// intercalary days.
func (e *Engine) DayNumber(d domain.CalendarDate) (int64, error) {
	_, seg, err := e.segmentOf(d)
	if err != nil {
		return 0, err
	}
	doy := int64(seg.start + d.Day - 1)
	return e.daysBeforeYear(d.Year) + doy - e.epochDay, nil
}

// OrdinalDay counts weekday-counting days between the epoch and d. An
// intercalary date yields the count of the next ordinary day.
func (e *Engine) OrdinalDay(d domain.CalendarDate) (int64, error) {
	_, seg, err := e.segmentOf(d)
	if err != nil {
		return 0, err
	}
	doy := int64(seg.ordStart)
	if !d.IsIntercalary() {
		doy += int64(d.Day - 1)
	}
	return e.ordinaryBeforeYear(d.Year) + doy - e.epochOrd, nil
}

// DateFromDayNumber is the inverse of DayNumber. The time of day is zero.
func (e *Engine) DateFromDayNumber(n int64) domain.CalendarDate {
	target := n + e.epochDay
	q := floorDiv(target, e.cycleDays)
	rem := target - q*e.cycleDays
	r := sort.Search(e.cycle, func(i int) bool { return e.prefix[i+1] > rem })
	year := e.def.Epoch.Year + int(q)*e.cycle + r
	doy := int(rem - e.prefix[r])

	l := e.layout(year)
	i := sort.Search(len(l.segments), func(i int) bool {
		s := l.segments[i]
		return s.start+s.length > doy
	})
	seg := l.segments[i]
	d := domain.CalendarDate{Year: year, Month: seg.month, Day: doy - seg.start + 1}
	if seg.intercalary >= 0 {
		d.Intercalary = e.def.Intercalary[seg.intercalary].Name
		return d
	}
	ord := e.ordinaryBeforeYear(year) + int64(seg.ordStart+d.Day-1) - e.epochOrd
	d.Weekday = e.weekdayOfOrdinal(ord)
	return d
}

// DateFromOrdinalDay is the inverse of OrdinalDay for ordinary dates.
func (e *Engine) DateFromOrdinalDay(n int64) domain.CalendarDate {
	target := n + e.epochOrd
	q := floorDiv(target, e.cycleOrdinary)
	rem := target - q*e.cycleOrdinary
	r := sort.Search(e.cycle, func(i int) bool { return e.prefixOrd[i+1] > rem })
	year := e.def.Epoch.Year + int(q)*e.cycle + r
	ordDoy := int(rem - e.prefixOrd[r])

	l := e.layout(year)
	for m := 1; m < len(l.monthSeg); m++ {
		seg := l.segments[l.monthSeg[m]]
		if ordDoy < seg.ordStart+seg.length {
			return domain.CalendarDate{
				Year:    year,
				Month:   m,
				Day:     ordDoy - seg.ordStart + 1,
				Weekday: e.weekdayOfOrdinal(n),
			}
		}
	}
	// Unreachable for a consistent layout.
	panic("calendar: ordinal day outside year layout")
}

// WorldTimeToDate converts elapsed seconds since the epoch into a date.
func (e *Engine) WorldTimeToDate(seconds int64) domain.CalendarDate {
	days := floorDiv(seconds, e.secondsPerDay)
	rest := seconds - days*e.secondsPerDay
	d := e.DateFromDayNumber(days)

	perMinute := int64(e.def.Time.SecondsPerMinute)
	perHour := int64(e.def.Time.MinutesPerHour) * perMinute
	d.Time = domain.TimeOfDay{
		Hour:   int(rest / perHour),
		Minute: int(rest % perHour / perMinute),
		Second: int(rest % perMinute),
	}
	return d
}

// DateToWorldTime converts d into elapsed seconds since the epoch.
// Intercalary dates map to the start of their own slot after the anchor
// month, plus the time of day.
func (e *Engine) DateToWorldTime(d domain.CalendarDate) (int64, error) {
	if err := e.Validate(d); err != nil {
		return 0, err
	}
	days, err := e.DayNumber(d)
	if err != nil {
		return 0, err
	}
	return days*e.secondsPerDay + e.secondsOfDay(d.Time), nil
}

func (e *Engine) secondsOfDay(t domain.TimeOfDay) int64 {
	perMinute := int64(e.def.Time.SecondsPerMinute)
	perHour := int64(e.def.Time.MinutesPerHour) * perMinute
	return int64(t.Hour)*perHour + int64(t.Minute)*perMinute + int64(t.Second)
}

// Compare orders two dates: -1, 0 or +1.
func (e *Engine) Compare(a, b domain.CalendarDate) (int, error) {
	da, err := e.DayNumber(a)
	if err != nil {
		return 0, err
	}
	db, err := e.DayNumber(b)
	if err != nil {
		return 0, err
	}
	if da == db {
		sa, sb := e.secondsOfDay(a.Time), e.secondsOfDay(b.Time)
		switch {
		case sa < sb:
			return -1, nil
		case sa > sb:
			return 1, nil
		}
		return 0, nil
	}
	if da < db {
		return -1, nil
	}
	return 1, nil
}

func cloneDefinition(def domain.CalendarDefinition) domain.CalendarDefinition {
	def.Months = append([]domain.Month(nil), def.Months...)
	def.Weekdays = append([]domain.Weekday(nil), def.Weekdays...)
	def.Intercalary = append([]domain.IntercalaryDay(nil), def.Intercalary...)
	def.Leap.Adjustments = append([]domain.LeapAdjustment(nil), def.Leap.Adjustments...)
	return def
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}
