package calendar

import (
	"github.com/tazhate/worldcal/internal/domain"
)

// AddDays moves d by delta days, intercalary days included. The time of
// day is kept.
func (e *Engine) AddDays(d domain.CalendarDate, delta int64) (domain.CalendarDate, error) {
	n, err := e.DayNumber(d)
	if err != nil {
		return d, err
	}
	out := e.DateFromDayNumber(n + delta)
	out.Time = d.Time
	return out, nil
}

// AddMonths moves d by delta months. The day of month is kept when the
// target month has it; otherwise it is clamped to the target month's last
// day. Intercalary dates count as the last day of their anchor month.
func (e *Engine) AddMonths(d domain.CalendarDate, delta int) (domain.CalendarDate, error) {
	out, _, err := e.AddMonthsClamped(d, delta)
	return out, err
}

// AddMonthsClamped is AddMonths that also reports whether the day was
// clamped or an intercalary date was folded onto its anchor month.
func (e *Engine) AddMonthsClamped(d domain.CalendarDate, delta int) (domain.CalendarDate, bool, error) {
	day, folded, err := e.monthDay(d)
	if err != nil {
		return d, false, err
	}
	months := int64(len(e.def.Months))
	total := int64(d.Month-1) + int64(delta)
	year := d.Year + int(floorDiv(total, months))
	month := int(floorMod(total, months)) + 1
	out, clamped, err := e.clampedDate(year, month, day, d.Time)
	return out, clamped || folded, err
}

// AddYears moves d by delta years, keeping the month and clamping the day
// like AddMonths.
func (e *Engine) AddYears(d domain.CalendarDate, delta int) (domain.CalendarDate, error) {
	out, _, err := e.AddYearsClamped(d, delta)
	return out, err
}

// AddYearsClamped is AddYears that also reports clamping.
func (e *Engine) AddYearsClamped(d domain.CalendarDate, delta int) (domain.CalendarDate, bool, error) {
	day, folded, err := e.monthDay(d)
	if err != nil {
		return d, false, err
	}
	out, clamped, err := e.clampedDate(d.Year+delta, d.Month, day, d.Time)
	return out, clamped || folded, err
}

// monthDay returns the day of month used for month arithmetic.
func (e *Engine) monthDay(d domain.CalendarDate) (int, bool, error) {
	if err := e.Validate(d); err != nil {
		return 0, false, err
	}
	if !d.IsIntercalary() {
		return d.Day, false, nil
	}
	last, err := e.MonthLength(d.Month, d.Year)
	return last, true, err
}

func (e *Engine) clampedDate(year, month, day int, t domain.TimeOfDay) (domain.CalendarDate, bool, error) {
	length, err := e.MonthLength(month, year)
	if err != nil {
		return domain.CalendarDate{}, false, err
	}
	clamped := day > length
	if clamped {
		day = length
	}
	wd, err := e.Weekday(year, month, day)
	if err != nil {
		return domain.CalendarDate{}, false, err
	}
	return domain.CalendarDate{Year: year, Month: month, Day: day, Weekday: wd, Time: t}, clamped, nil
}

// NthWeekdayOfMonth returns the day of the ordinal-th weekday in month, or
// false when the month has no such day. Ordinal -1 selects the last one.
func (e *Engine) NthWeekdayOfMonth(year, month, weekday, ordinal int) (int, bool, error) {
	length, err := e.MonthLength(month, year)
	if err != nil {
		return 0, false, err
	}
	n := e.WeekdayCount()
	if weekday < 0 || weekday >= n {
		return 0, false, domain.RangeError("nth weekday", "weekday out of range")
	}
	if ordinal == domain.OrdinalLast {
		wl, err := e.Weekday(year, month, length)
		if err != nil {
			return 0, false, err
		}
		day := length - int(floorMod(int64(wl-weekday), int64(n)))
		return day, day >= 1, nil
	}
	if ordinal < 1 {
		return 0, false, domain.RangeError("nth weekday", "ordinal must be positive or last")
	}
	w1, err := e.Weekday(year, month, 1)
	if err != nil {
		return 0, false, err
	}
	day := 1 + int(floorMod(int64(weekday-w1), int64(n))) + (ordinal-1)*n
	if day > length {
		return 0, false, nil
	}
	return day, true, nil
}
