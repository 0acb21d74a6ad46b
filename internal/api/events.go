package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tazhate/worldcal/internal/events"
	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/service"
)

// GET /api/events?surface=ID - server-sent events. Surface ids belong to
// the signed-in user; opening a stream for one of them closes that user's
// previous stream of the same id.
func (s *Server) apiEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	actor := service.ActorFrom(r.Context())
	surface := r.URL.Query().Get("surface")
	if surface == "" {
		surface = "default"
	}
	surface = actor.Name + ":" + surface

	h := s.surfaces.Register(surface)
	defer s.surfaces.Release(h)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	appLog.Debug("event stream opened", "surface", surface, "user", actor.Name)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.Done():
			appLog.Debug("event stream replaced", "surface", surface)
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e := <-h.Events():
			if !visibleEvent(actor, e) {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				appLog.Error("encode event", err, "kind", e.Kind)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
			flusher.Flush()
		}
	}
}

// visibleEvent hides events about notes the actor cannot see.
func visibleEvent(a service.Actor, e events.Event) bool {
	if a.IsGM() || e.Note == nil {
		return true
	}
	return e.Note.PlayerVisible
}
