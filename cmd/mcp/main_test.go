package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tazhate/worldcal/internal/api"
	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/calendar/calendartest"
	"github.com/tazhate/worldcal/internal/registry"
	"github.com/tazhate/worldcal/internal/service"
	"github.com/tazhate/worldcal/internal/storage"
)

func newServer(t *testing.T, user string) (*MCPServer, *service.NotesService, *service.TimeService) {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "worldcal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	greg := calendartest.Gregorian(t)
	notes := service.NewNotesService(db, greg)
	clock, err := service.NewTimeService(db, []*calendar.Engine{greg, calendartest.Harptos(t)},
		service.WithCalendarListener(notes))
	if err != nil {
		t.Fatal(err)
	}
	if err := clock.Load(context.Background(), "gregorian"); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.New(api.Credentials{Username: "dm", Password: "secret", Players: []string{"alice"}}, notes, clock, registry.New()))
	t.Cleanup(srv.Close)

	return &MCPServer{apiURL: srv.URL, apiUsername: user, apiPassword: "secret", client: srv.Client()}, notes, clock
}

func call(t *testing.T, s *MCPServer, tool string, args map[string]interface{}) ToolCallResult {
	t.Helper()
	params, err := json.Marshal(ToolCallParams{Name: tool, Arguments: args})
	if err != nil {
		t.Fatal(err)
	}
	resp := s.handleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
	if resp.Error != nil {
		t.Fatalf("%s: rpc error %+v", tool, resp.Error)
	}
	return resp.Result.(ToolCallResult)
}

func TestRunAnswersEachLine(t *testing.T) {
	s, _, _ := newServer(t, "dm")
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}
{"jsonrpc":"2.0","method":"notifications/initialized"}

{"jsonrpc":"2.0","id":2,"method":"tools/list"}
{"jsonrpc":"2.0","id":3,"method":"nope"}`)
	var out bytes.Buffer
	s.Run(in, &out)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d responses:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], `"worldcal-mcp"`) {
		t.Errorf("initialize = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"worldcal_create_note"`) {
		t.Errorf("tools/list = %s", lines[1])
	}
	if !strings.Contains(lines[2], `-32601`) {
		t.Errorf("unknown method = %s", lines[2])
	}
}

func TestToolsReachTheAPI(t *testing.T) {
	s, notes, clock := newServer(t, "dm")

	res := call(t, s, "worldcal_create_note", map[string]interface{}{
		"title": "Harvest fair", "date": "1970-1-5", "player_visible": true,
	})
	if res.IsError {
		t.Fatalf("create: %s", res.Content[0].Text)
	}
	if notes.Len() != 1 {
		t.Fatalf("notes = %d", notes.Len())
	}

	res = call(t, s, "worldcal_notes_for_date", map[string]interface{}{"date": "1970-1-5"})
	if res.IsError || !strings.Contains(res.Content[0].Text, "Harvest fair") {
		t.Errorf("notes for date = %+v", res)
	}

	res = call(t, s, "worldcal_search_notes", map[string]interface{}{"query": "harvest", "limit": float64(5)})
	if res.IsError || !strings.Contains(res.Content[0].Text, "Harvest fair") {
		t.Errorf("search = %+v", res)
	}

	res = call(t, s, "worldcal_advance_time", map[string]interface{}{"amount": float64(3), "unit": "days"})
	if res.IsError {
		t.Fatalf("advance: %s", res.Content[0].Text)
	}
	if got := clock.CurrentDate().Key(); got != "1970-1-4" {
		t.Errorf("date = %s, want 1970-1-4", got)
	}

	res = call(t, s, "worldcal_set_calendar", map[string]interface{}{"id": "harptos"})
	if res.IsError || clock.ActiveCalendar().ID != "harptos" {
		t.Errorf("set calendar = %+v", res)
	}
}

func TestToolErrors(t *testing.T) {
	s, _, _ := newServer(t, "alice")

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
		want string
	}{
		{"bad date", "worldcal_notes_for_date", map[string]interface{}{"date": "soon"}, "date key"},
		{"player advances", "worldcal_advance_time", map[string]interface{}{"amount": float64(1), "unit": "days"}, "API Error"},
		{"unknown tool", "worldcal_weather", nil, "Unknown tool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, s, tt.tool, tt.args)
			if !res.IsError || !strings.Contains(res.Content[0].Text, tt.want) {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestAPIRequestWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()
	s := &MCPServer{apiURL: srv.URL, client: srv.Client()}

	text, isError := s.apiGet("/api/time")
	if !isError || !strings.Contains(text, "bad gateway") {
		t.Errorf("apiGet = %q, %v", text, isError)
	}
}
