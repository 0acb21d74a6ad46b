package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/events"
	appLog "github.com/tazhate/worldcal/internal/log"
)

const (
	SettingWorldTime      = "worldTime"
	SettingActiveCalendar = "activeCalendar"
)

// EngineAccessor is the read surface UI code uses for calendar arithmetic.
type EngineAccessor interface {
	Calendar() domain.CalendarDefinition
	Weekday(year, month, day int) (int, error)
	MonthLength(month, year int) (int, error)
	AddMonths(d domain.CalendarDate, delta int) (domain.CalendarDate, error)
	AddYears(d domain.CalendarDate, delta int) (domain.CalendarDate, error)
	IntercalaryAfterMonth(year, month int) ([]domain.IntercalaryDay, error)
}

var _ EngineAccessor = (*calendar.Engine)(nil)

// CalendarListener is told when the active calendar changes.
type CalendarListener interface {
	UseCalendar(e *calendar.Engine)
}

// TimeService owns the world clock and the set of loaded calendars.
type TimeService struct {
	settings SettingsProvider
	perms    PermissionChecker
	bus      *events.Bus
	clock    func() time.Time
	listener CalendarListener

	mu        sync.RWMutex
	calendars map[string]*calendar.Engine
	active    *calendar.Engine
	worldTime int64
}

type TimeOption func(*TimeService)

func WithTimePermissions(p PermissionChecker) TimeOption {
	return func(s *TimeService) { s.perms = p }
}

func WithTimeBus(b *events.Bus) TimeOption {
	return func(s *TimeService) { s.bus = b }
}

func WithTimeClock(clock func() time.Time) TimeOption {
	return func(s *TimeService) { s.clock = clock }
}

// WithCalendarListener registers who re-indexes when the calendar changes,
// usually the NotesService.
func WithCalendarListener(l CalendarListener) TimeOption {
	return func(s *TimeService) { s.listener = l }
}

// NewTimeService starts with the first calendar active unless Load finds a
// persisted choice.
func NewTimeService(settings SettingsProvider, calendars []*calendar.Engine, opts ...TimeOption) (*TimeService, error) {
	if len(calendars) == 0 {
		return nil, domain.ConfigError("time service", "no calendars loaded")
	}
	s := &TimeService{
		settings: settings,
		perms:    StaticPermissions{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.calendars = indexCalendars(calendars)
	s.active = calendars[0]
	return s, nil
}

func indexCalendars(list []*calendar.Engine) map[string]*calendar.Engine {
	m := make(map[string]*calendar.Engine, len(list))
	for _, e := range list {
		m[e.ID()] = e
	}
	return m
}

// Load restores the world time and active calendar. preferred is used when
// nothing is persisted yet.
func (s *TimeService) Load(ctx context.Context, preferred string) error {
	id, ok, err := s.settings.Setting(ctx, SettingActiveCalendar)
	if err != nil {
		return fmt.Errorf("load active calendar: %w", err)
	}
	if !ok {
		id = preferred
	}
	raw, ok, err := s.settings.Setting(ctx, SettingWorldTime)
	if err != nil {
		return fmt.Errorf("load world time: %w", err)
	}
	var wt int64
	if ok {
		if wt, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return domain.ConfigError("load world time", fmt.Sprintf("stored value %q is not an integer", raw))
		}
	}

	s.mu.Lock()
	if e, found := s.calendars[id]; found {
		s.active = e
	} else if id != "" {
		appLog.Warn("active calendar not loaded, keeping default", "calendar", id, "default", s.active.ID())
	}
	s.worldTime = wt
	active := s.active
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.UseCalendar(active)
	}
	appLog.Info("time loaded", "calendar", active.ID(), "world_time", wt)
	return nil
}

func (s *TimeService) CurrentWorldTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worldTime
}

// CurrentDate is the world time read through the active calendar.
func (s *TimeService) CurrentDate() domain.CalendarDate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.WorldTimeToDate(s.worldTime)
}

func (s *TimeService) ActiveCalendar() domain.CalendarDefinition {
	return s.ActiveEngine().Calendar()
}

func (s *TimeService) ActiveEngine() *calendar.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Engine returns the arithmetic surface of the active calendar.
func (s *TimeService) Engine() EngineAccessor {
	return s.ActiveEngine()
}

// AllCalendars lists the loaded definitions by id.
func (s *TimeService) AllCalendars() []domain.CalendarDefinition {
	s.mu.RLock()
	out := make([]domain.CalendarDefinition, 0, len(s.calendars))
	for _, e := range s.calendars {
		out = append(out, e.Calendar())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetActiveCalendar switches calendars. World time is kept, so the current
// date is re-read under the new schema.
func (s *TimeService) SetActiveCalendar(ctx context.Context, id string) error {
	const op = "set active calendar"
	if err := s.allow(ctx, ActionChangeCalendar, op); err != nil {
		return err
	}
	s.mu.RLock()
	e, ok := s.calendars[id]
	s.mu.RUnlock()
	if !ok {
		return domain.NotFound(op, fmt.Sprintf("calendar %s", id))
	}
	if err := s.settings.SetSetting(ctx, SettingActiveCalendar, id); err != nil {
		return fmt.Errorf("save active calendar: %w", err)
	}
	s.activate(e)
	return nil
}

func (s *TimeService) activate(e *calendar.Engine) {
	s.mu.Lock()
	s.active = e
	wt := s.worldTime
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.UseCalendar(e)
	}
	date := e.WorldTimeToDate(wt)
	s.publish(events.Event{Kind: events.CalendarChanged, CalendarID: e.ID(), Date: &date, WorldTime: wt})
}

// ReplaceCalendars swaps the loaded definitions, for example after the
// definition files changed on disk. If the active calendar disappears the
// first new one takes over.
func (s *TimeService) ReplaceCalendars(list []*calendar.Engine) error {
	if len(list) == 0 {
		return domain.ConfigError("replace calendars", "no calendars loaded")
	}
	s.mu.Lock()
	s.calendars = indexCalendars(list)
	next, ok := s.calendars[s.active.ID()]
	if !ok {
		next = list[0]
	}
	s.mu.Unlock()

	appLog.Info("calendars replaced", "count", len(list), "active", next.ID())
	s.activate(next)
	return nil
}

// SetWorldTime moves the clock to an absolute value.
func (s *TimeService) SetWorldTime(ctx context.Context, seconds int64) (domain.CalendarDate, error) {
	if err := s.allow(ctx, ActionChangeTime, "set world time"); err != nil {
		return domain.CalendarDate{}, err
	}
	return s.moveTo(ctx, func(int64, *calendar.Engine) (int64, error) { return seconds, nil })
}

// SetCurrentDate moves the clock to a date of the active calendar.
func (s *TimeService) SetCurrentDate(ctx context.Context, d domain.CalendarDate) (domain.CalendarDate, error) {
	if err := s.allow(ctx, ActionChangeTime, "set current date"); err != nil {
		return domain.CalendarDate{}, err
	}
	return s.moveTo(ctx, func(_ int64, e *calendar.Engine) (int64, error) {
		return e.DateToWorldTime(d)
	})
}

func (s *TimeService) AdvanceSeconds(ctx context.Context, n int64) (domain.CalendarDate, error) {
	return s.advance(ctx, func(wt int64, _ *calendar.Engine) (int64, error) { return wt + n, nil })
}

func (s *TimeService) AdvanceMinutes(ctx context.Context, n int64) (domain.CalendarDate, error) {
	return s.advance(ctx, func(wt int64, e *calendar.Engine) (int64, error) {
		t := e.Calendar().Time
		return wt + n*int64(t.SecondsPerMinute), nil
	})
}

func (s *TimeService) AdvanceHours(ctx context.Context, n int64) (domain.CalendarDate, error) {
	return s.advance(ctx, func(wt int64, e *calendar.Engine) (int64, error) {
		t := e.Calendar().Time
		return wt + n*int64(t.SecondsPerMinute)*int64(t.MinutesPerHour), nil
	})
}

func (s *TimeService) AdvanceDays(ctx context.Context, n int64) (domain.CalendarDate, error) {
	return s.advance(ctx, func(wt int64, e *calendar.Engine) (int64, error) {
		return wt + n*e.SecondsPerDay(), nil
	})
}

func (s *TimeService) AdvanceWeeks(ctx context.Context, n int64) (domain.CalendarDate, error) {
	return s.advance(ctx, func(wt int64, e *calendar.Engine) (int64, error) {
		return wt + n*int64(e.WeekdayCount())*e.SecondsPerDay(), nil
	})
}

// AdvanceMonths moves by calendar months, clamping the day when the target
// month is shorter.
func (s *TimeService) AdvanceMonths(ctx context.Context, n int) (domain.CalendarDate, error) {
	return s.advance(ctx, func(wt int64, e *calendar.Engine) (int64, error) {
		d, err := e.AddMonths(e.WorldTimeToDate(wt), n)
		if err != nil {
			return 0, err
		}
		return e.DateToWorldTime(d)
	})
}

func (s *TimeService) AdvanceYears(ctx context.Context, n int) (domain.CalendarDate, error) {
	return s.advance(ctx, func(wt int64, e *calendar.Engine) (int64, error) {
		d, err := e.AddYears(e.WorldTimeToDate(wt), n)
		if err != nil {
			return 0, err
		}
		return e.DateToWorldTime(d)
	})
}

// Advance moves by n units, where unit is one of seconds, minutes, hours,
// days, weeks, months or years. The singular forms are accepted too.
func (s *TimeService) Advance(ctx context.Context, unit string, n int64) (domain.CalendarDate, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "s") {
	case "second":
		return s.AdvanceSeconds(ctx, n)
	case "minute":
		return s.AdvanceMinutes(ctx, n)
	case "hour":
		return s.AdvanceHours(ctx, n)
	case "day":
		return s.AdvanceDays(ctx, n)
	case "week":
		return s.AdvanceWeeks(ctx, n)
	case "month":
		return s.AdvanceMonths(ctx, int(n))
	case "year":
		return s.AdvanceYears(ctx, int(n))
	}
	return domain.CalendarDate{}, domain.Invalid("advance time", fmt.Sprintf("unknown unit %q", unit))
}

func (s *TimeService) advance(ctx context.Context, next func(int64, *calendar.Engine) (int64, error)) (domain.CalendarDate, error) {
	if err := s.allow(ctx, ActionChangeTime, "advance time"); err != nil {
		return domain.CalendarDate{}, err
	}
	return s.moveTo(ctx, next)
}

// moveTo computes and persists the new world time under the write lock so
// concurrent advances compose.
func (s *TimeService) moveTo(ctx context.Context, next func(int64, *calendar.Engine) (int64, error)) (domain.CalendarDate, error) {
	s.mu.Lock()
	prev, e := s.worldTime, s.active
	wt, err := next(prev, e)
	if err != nil {
		s.mu.Unlock()
		return domain.CalendarDate{}, err
	}
	if err := s.settings.SetSetting(ctx, SettingWorldTime, strconv.FormatInt(wt, 10)); err != nil {
		s.mu.Unlock()
		return domain.CalendarDate{}, fmt.Errorf("save world time: %w", err)
	}
	s.worldTime = wt
	s.mu.Unlock()

	date := e.WorldTimeToDate(wt)
	previous := e.WorldTimeToDate(prev)
	s.publish(events.Event{Kind: events.DateChanged, Date: &date, Previous: &previous, WorldTime: wt, CalendarID: e.ID()})
	return date, nil
}

// Setting reads a free-form setting.
func (s *TimeService) Setting(ctx context.Context, key string) (string, bool, error) {
	return s.settings.Setting(ctx, key)
}

// SetSetting writes a free-form setting. The clock keys can only change
// through their own operations.
func (s *TimeService) SetSetting(ctx context.Context, key, value string) error {
	const op = "set setting"
	if key == SettingWorldTime || key == SettingActiveCalendar {
		return domain.Invalid(op, fmt.Sprintf("%s is managed by the clock", key))
	}
	if key == "" {
		return domain.Invalid(op, "key is empty")
	}
	if err := s.allow(ctx, ActionChangeSettings, op); err != nil {
		return err
	}
	if err := s.settings.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	s.publish(events.Event{Kind: events.SettingsChanged, Setting: key})
	return nil
}

func (s *TimeService) allow(ctx context.Context, action Action, op string) error {
	actor := ActorFrom(ctx)
	if !s.perms.Allowed(ctx, actor, action, nil) {
		return domain.PermissionDenied(op, fmt.Sprintf("%s may not %s", actor.Name, action))
	}
	return ctx.Err()
}

func (s *TimeService) publish(e events.Event) {
	if s.bus == nil {
		return
	}
	e.At = s.clock()
	s.bus.Publish(e)
}
