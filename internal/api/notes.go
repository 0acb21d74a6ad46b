package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/search"
	"github.com/tazhate/worldcal/internal/service"
)

// GET /api/notes?date=KEY - notes on one day
// GET /api/notes?from=KEY&to=KEY - notes in a range
// GET /api/notes - every note
// POST /api/notes - create note
func (s *Server) apiNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		date, hasDate, err := dateParam(r, "date")
		if err != nil {
			serviceError(w, r, err)
			return
		}
		from, hasFrom, err := dateParam(r, "from")
		if err != nil {
			serviceError(w, r, err)
			return
		}
		to, hasTo, err := dateParam(r, "to")
		if err != nil {
			serviceError(w, r, err)
			return
		}

		var notes []*domain.Note
		switch {
		case hasDate:
			notes, err = s.notes.GetNotesForDate(ctx, date)
		case hasFrom && hasTo:
			notes, err = s.notes.GetNotesForDateRange(ctx, from, to)
		case hasFrom || hasTo:
			jsonError(w, "from and to go together", http.StatusBadRequest)
			return
		default:
			notes, err = s.notes.ListNotes(ctx)
		}
		if err != nil {
			serviceError(w, r, err)
			return
		}
		if notes == nil {
			notes = []*domain.Note{}
		}
		jsonResponse(w, notes)

	case http.MethodPost:
		var req service.NoteInput
		if !decode(w, r, &req) {
			return
		}
		n, err := s.notes.CreateNote(ctx, req)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		jsonStatus(w, http.StatusCreated, n)

	default:
		methodNotAllowed(w)
	}
}

// /api/note/{id}
// /api/note/{id}/pattern
// /api/note/{id}/series
// /api/note/{id}/data/{namespace}
func (s *Server) apiNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/note/"), "/")
	id := parts[0]
	if id == "" {
		jsonError(w, "Note ID required", http.StatusBadRequest)
		return
	}

	if len(parts) > 1 {
		switch parts[1] {
		case "pattern":
			if r.Method != http.MethodPut {
				methodNotAllowed(w)
				return
			}
			var req struct {
				Recurrence *domain.RecurrencePattern `json:"recurrence"`
			}
			if !decode(w, r, &req) {
				return
			}
			n, err := s.notes.UpdateRecurringPattern(ctx, id, req.Recurrence)
			if err != nil {
				serviceError(w, r, err)
				return
			}
			jsonResponse(w, n)

		case "series":
			if r.Method != http.MethodDelete {
				methodNotAllowed(w)
				return
			}
			if err := s.notes.DeleteRecurringSeries(ctx, id); err != nil {
				serviceError(w, r, err)
				return
			}
			jsonResponse(w, map[string]bool{"deleted": true})

		case "data":
			if len(parts) < 3 || parts[2] == "" {
				jsonError(w, "Namespace required", http.StatusBadRequest)
				return
			}
			s.moduleData(w, r, id, parts[2])

		default:
			jsonError(w, "Not found", http.StatusNotFound)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		n, err := s.notes.GetNote(ctx, id)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, n)

	case http.MethodPut:
		var req service.NoteUpdate
		if !decode(w, r, &req) {
			return
		}
		n, err := s.notes.UpdateNote(ctx, id, req)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, n)

	case http.MethodDelete:
		if err := s.notes.DeleteNote(ctx, id); err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, map[string]bool{"deleted": true})

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) moduleData(w http.ResponseWriter, r *http.Request, id, namespace string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		data, err := s.notes.ModuleData(ctx, id, namespace)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, data)
	case http.MethodPut:
		var data json.RawMessage
		if !decode(w, r, &data) {
			return
		}
		if _, err := s.notes.SetModuleData(ctx, id, namespace, data); err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, data)
	case http.MethodDelete:
		if _, err := s.notes.SetModuleData(ctx, id, namespace, nil); err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, map[string]bool{"deleted": true})
	default:
		methodNotAllowed(w)
	}
}

// GET /api/occurrences?from=KEY&to=KEY - every (note, day) pair in date order
func (s *Server) apiOccurrences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	from, okFrom, err := dateParam(r, "from")
	if err != nil {
		serviceError(w, r, err)
		return
	}
	to, okTo, err := dateParam(r, "to")
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if !okFrom || !okTo {
		jsonError(w, "from and to required", http.StatusBadRequest)
		return
	}
	occs, err := s.notes.Occurrences(r.Context(), from, to)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	jsonResponse(w, occs)
}

// POST /api/search - structured query, see search.Criteria
func (s *Server) apiSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var c search.Criteria
	if !decode(w, r, &c) {
		return
	}
	res, err := s.notes.Search(r.Context(), c)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	jsonResponse(w, res)
}

// GET /api/compat/notes?year=2024&month=2&day=14 - zero-based month and day
// POST /api/compat/notes - create with zero-based dates
func (s *Server) apiCompatNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		var vals [3]int
		for i, name := range []string{"year", "month", "day"} {
			v, err := intParam(r, name)
			if err != nil {
				serviceError(w, r, err)
				return
			}
			vals[i] = v
		}
		notes, err := s.compat.GetNotesForDay(ctx, vals[0], vals[1], vals[2])
		if err != nil {
			serviceError(w, r, err)
			return
		}
		jsonResponse(w, notes)

	case http.MethodPost:
		var req struct {
			Title   string              `json:"title"`
			Content string              `json:"content"`
			Date    service.CompatDate  `json:"date"`
			EndDate *service.CompatDate `json:"end_date"`
			AllDay  bool                `json:"all_day"`
		}
		if !decode(w, r, &req) {
			return
		}
		n, err := s.compat.AddNote(ctx, req.Title, req.Content, req.Date, req.EndDate, req.AllDay)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		jsonStatus(w, http.StatusCreated, n)

	default:
		methodNotAllowed(w)
	}
}

// DELETE /api/compat/note/{id}
// GET|PUT /api/compat/note/{id}/data
func (s *Server) apiCompatNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/compat/note/"), "/")
	id := parts[0]
	if id == "" {
		jsonError(w, "Note ID required", http.StatusBadRequest)
		return
	}

	if len(parts) > 1 && parts[1] == "data" {
		switch r.Method {
		case http.MethodGet:
			data, err := s.compat.NoteData(ctx, id)
			if err != nil {
				serviceError(w, r, err)
				return
			}
			jsonResponse(w, data)
		case http.MethodPut:
			var data json.RawMessage
			if !decode(w, r, &data) {
				return
			}
			if err := s.compat.SetNoteData(ctx, id, data); err != nil {
				serviceError(w, r, err)
				return
			}
			jsonResponse(w, data)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.compat.RemoveNote(ctx, id); err != nil {
		serviceError(w, r, err)
		return
	}
	jsonResponse(w, map[string]bool{"deleted": true})
}
