// Package api serves the calendar and note store over HTTP with Basic Auth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/worldcal/internal/domain"
	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/registry"
	"github.com/tazhate/worldcal/internal/service"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// Credentials decide who may log in. Players share the password and log in
// with their own name.
type Credentials struct {
	Username string
	Password string
	Players  []string
}

type Server struct {
	creds    Credentials
	notes    *service.NotesService
	clock    *service.TimeService
	compat   *service.CompatAdapter
	surfaces *registry.Registry
	actors   *service.ActorResolver
	mux      *http.ServeMux

	// keepAlive is the interval of SSE comments on idle streams.
	keepAlive time.Duration
}

func New(creds Credentials, notes *service.NotesService, clock *service.TimeService, surfaces *registry.Registry) *Server {
	s := &Server{
		creds:     creds,
		notes:     notes,
		clock:     clock,
		compat:    service.NewCompatAdapter(notes),
		surfaces:  surfaces,
		actors:    service.NewActorResolver(creds.Players),
		mux:       http.NewServeMux(),
		keepAlive: 25 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Clock and calendars
	s.mux.HandleFunc("/api/time", s.basicAuth(s.apiTime))
	s.mux.HandleFunc("/api/time/advance", s.basicAuth(s.apiTimeAdvance))
	s.mux.HandleFunc("/api/calendars", s.basicAuth(s.apiCalendars))
	s.mux.HandleFunc("/api/calendars/active", s.basicAuth(s.apiActiveCalendar))
	s.mux.HandleFunc("/api/calendar/month", s.basicAuth(s.apiCalendarMonth))
	s.mux.HandleFunc("/api/settings/", s.basicAuth(s.apiSetting))

	// Notes
	s.mux.HandleFunc("/api/notes", s.basicAuth(s.apiNotes))
	s.mux.HandleFunc("/api/note/", s.basicAuth(s.apiNote))
	s.mux.HandleFunc("/api/occurrences", s.basicAuth(s.apiOccurrences))
	s.mux.HandleFunc("/api/search", s.basicAuth(s.apiSearch))

	// Zero-based compatibility routes
	s.mux.HandleFunc("/api/compat/notes", s.basicAuth(s.apiCompatNotes))
	s.mux.HandleFunc("/api/compat/note/", s.basicAuth(s.apiCompatNote))

	s.mux.HandleFunc("/api/events", s.basicAuth(s.apiEvents))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the server until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	appLog.Info("http server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuth authenticates the caller and attaches the matching actor.
func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || password != s.creds.Password || !s.allowedUser(username) {
			w.Header().Set("WWW-Authenticate", `Basic realm="worldcal API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		actor := s.actors.Resolve(username)
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (s *Server) allowedUser(name string) bool {
	if name == s.creds.Username {
		return true
	}
	for _, p := range s.creds.Players {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// serviceError maps typed failures to status codes; anything untyped is a
// server error and gets logged.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindPermissionDenied:
		status = http.StatusForbidden
	case domain.KindInvalid, domain.KindRange:
		status = http.StatusBadRequest
	case domain.KindResourceExceeded:
		status = http.StatusUnprocessableEntity
	default:
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err.Error(), Kind: string(kind)})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// dateParam reads a date key such as 1492-3-10 or 1492/7/!Shieldmeet/1.
func dateParam(r *http.Request, name string) (domain.CalendarDate, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return domain.CalendarDate{}, false, nil
	}
	d, err := domain.ParseKey(v)
	return d, true, err
}

func intParam(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0, domain.Invalid("query", name+" must be a number")
	}
	return n, nil
}
