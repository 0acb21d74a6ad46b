package api

import (
	"net/http"
	"strings"

	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/service"
)

type TimeResponse struct {
	WorldTime int64               `json:"world_time"`
	Date      domain.CalendarDate `json:"date"`
	Display   string              `json:"display"`
	Calendar  string              `json:"calendar"`
}

type MonthResponse struct {
	Year         int                     `json:"year"`
	Month        int                     `json:"month"`
	Name         string                  `json:"name"`
	Days         int                     `json:"days"`
	FirstWeekday int                     `json:"first_weekday"`
	Weekdays     []string                `json:"weekdays"`
	Intercalary  []domain.IntercalaryDay `json:"intercalary,omitempty"`
}

func (s *Server) timeResponse(d domain.CalendarDate) TimeResponse {
	e := s.clock.ActiveEngine()
	return TimeResponse{
		WorldTime: s.clock.CurrentWorldTime(),
		Date:      d,
		Display:   service.FormatDay(e.Calendar(), d) + ", " + e.FormatYear(d.Year),
		Calendar:  e.ID(),
	}
}

// GET /api/time - current date
// PUT /api/time - set world time or date
func (s *Server) apiTime(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResponse(w, s.timeResponse(s.clock.CurrentDate()))

	case http.MethodPut:
		var req struct {
			WorldTime *int64               `json:"world_time"`
			Date      *domain.CalendarDate `json:"date"`
		}
		if !decode(w, r, &req) {
			return
		}
		var (
			d   domain.CalendarDate
			err error
		)
		switch {
		case req.Date != nil:
			d, err = s.clock.SetCurrentDate(r.Context(), *req.Date)
		case req.WorldTime != nil:
			d, err = s.clock.SetWorldTime(r.Context(), *req.WorldTime)
		default:
			jsonError(w, "world_time or date required", http.StatusBadRequest)
			return
		}
		if err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, s.timeResponse(d))

	default:
		methodNotAllowed(w)
	}
}

// POST /api/time/advance - {"unit": "days", "amount": 3}
func (s *Server) apiTimeAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Unit   string `json:"unit"`
		Amount int64  `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := s.clock.Advance(r.Context(), req.Unit, req.Amount)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	jsonResponse(w, s.timeResponse(d))
}

// GET /api/calendars - all loaded definitions
func (s *Server) apiCalendars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	jsonResponse(w, s.clock.AllCalendars())
}

// GET /api/calendars/active - active definition
// PUT /api/calendars/active - {"id": "harptos"}
func (s *Server) apiActiveCalendar(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResponse(w, s.clock.ActiveCalendar())
	case http.MethodPut:
		var req struct {
			ID string `json:"id"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := s.clock.SetActiveCalendar(r.Context(), req.ID); err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, s.clock.ActiveCalendar())
	default:
		methodNotAllowed(w)
	}
}

// GET /api/calendar/month?year=1492&month=7 - grid layout of one month
func (s *Server) apiCalendarMonth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	year, err := intParam(r, "year")
	if err != nil {
		serviceError(w, r, err)
		return
	}
	month, err := intParam(r, "month")
	if err != nil {
		serviceError(w, r, err)
		return
	}

	e := s.clock.Engine()
	days, err := e.MonthLength(month, year)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	first, err := e.Weekday(year, month, 1)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	inter, err := e.IntercalaryAfterMonth(year, month)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	def := e.Calendar()
	resp := MonthResponse{
		Year:         year,
		Month:        month,
		Name:         def.Months[month-1].Name,
		Days:         days,
		FirstWeekday: first,
		Intercalary:  inter,
	}
	for _, wd := range def.Weekdays {
		resp.Weekdays = append(resp.Weekdays, wd.Name)
	}
	jsonResponse(w, resp)
}

// GET /api/settings/{key}
// PUT /api/settings/{key} - {"value": "..."}
func (s *Server) apiSetting(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/settings/")
	if key == "" {
		jsonError(w, "Setting key required", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		v, ok, err := s.clock.Setting(r.Context(), key)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		if !ok {
			jsonError(w, "Setting not found", http.StatusNotFound)
			return
		}
		jsonResponse(w, map[string]string{"key": key, "value": v})
	case http.MethodPut:
		var req struct {
			Value string `json:"value"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := s.clock.SetSetting(r.Context(), key, req.Value); err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, map[string]string{"key": key, "value": req.Value})
	default:
		methodNotAllowed(w)
	}
}
