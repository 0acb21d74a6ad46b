package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/tazhate/worldcal/internal/domain"
	appLog "github.com/tazhate/worldcal/internal/log"
)

// JSON-RPC structures
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCP structures
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCP Server
type MCPServer struct {
	apiURL      string
	apiUsername string
	apiPassword string
	client      *http.Client
}

func NewMCPServer() *MCPServer {
	apiURL := os.Getenv("WORLDCAL_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	return &MCPServer{
		apiURL:      strings.TrimSuffix(apiURL, "/"),
		apiUsername: os.Getenv("WORLDCAL_API_USERNAME"),
		apiPassword: os.Getenv("WORLDCAL_API_PASSWORD"),
		client:      &http.Client{},
	}
}

// Run answers one JSON-RPC request per input line until in is exhausted.
func (s *MCPServer) Run(in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
			if err != io.EOF {
				appLog.Error("read request", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			appLog.Warn("parse request", "error", err.Error())
			continue
		}

		// Notifications carry no id and get no response.
		if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
			continue
		}
		response := s.handleRequest(req)
		responseBytes, _ := json.Marshal(response)
		fmt.Fprintln(out, string(responseBytes))
	}
}

func (s *MCPServer) handleRequest(req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: nil}
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "Method not found"},
		}
	}
}

func (s *MCPServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	result.ServerInfo.Name = "worldcal-mcp"
	result.ServerInfo.Version = "1.0.0"

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

var dateHelp = "Date key: year-month-day such as 1492-3-1, or year/month/!Festival/day for intercalary days"

func (s *MCPServer) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	tools := []Tool{
		{
			Name:        "worldcal_current_date",
			Description: "Current world date and time in the active calendar.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
		{
			Name:        "worldcal_notes_for_date",
			Description: "Notes on one day, recurring occurrences included.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"date": {Type: "string", Description: dateHelp}},
				Required:   []string{"date"},
			},
		},
		{
			Name:        "worldcal_occurrences",
			Description: "Every note occurrence between two days, inclusive.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"from": {Type: "string", Description: dateHelp},
					"to":   {Type: "string", Description: dateHelp},
				},
				Required: []string{"from", "to"},
			},
		},
		{
			Name:        "worldcal_search_notes",
			Description: "Full-text search over note titles and content.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":    {Type: "string", Description: "Words that must all appear"},
					"category": {Type: "string", Description: "Only notes in this category (optional)"},
					"tag":      {Type: "string", Description: "Only notes with this tag (optional)"},
					"limit":    {Type: "number", Description: "Maximum results (optional)"},
				},
			},
		},
		{
			Name:        "worldcal_create_note",
			Description: "Create an all-day note.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"title":          {Type: "string", Description: "Note title"},
					"date":           {Type: "string", Description: dateHelp},
					"content":        {Type: "string", Description: "Markdown body (optional)"},
					"category":       {Type: "string", Description: "Category (optional)"},
					"player_visible": {Type: "boolean", Description: "Whether players can see it"},
				},
				Required: []string{"title", "date"},
			},
		},
		{
			Name:        "worldcal_delete_note",
			Description: "Delete a note by its ID.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"note_id": {Type: "string", Description: "Note ID"}},
				Required:   []string{"note_id"},
			},
		},
		{
			Name:        "worldcal_advance_time",
			Description: "Move the world clock forward or back.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"amount": {Type: "number", Description: "How many units; negative goes back"},
					"unit": {Type: "string", Description: "Unit of time",
						Enum: []string{"seconds", "minutes", "hours", "days", "weeks", "months", "years"}},
				},
				Required: []string{"amount", "unit"},
			},
		},
		{
			Name:        "worldcal_list_calendars",
			Description: "All loaded calendar definitions.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
		{
			Name:        "worldcal_set_calendar",
			Description: "Switch the active calendar. World time is kept.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"id": {Type: "string", Description: "Calendar id such as harptos"}},
				Required:   []string{"id"},
			},
		},
	}

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools}}
}

func (s *MCPServer) handleToolsCall(req JSONRPCRequest) JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32602, Message: "Invalid params"},
		}
	}

	result, isError := s.callTool(params.Name, params.Arguments)

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func (s *MCPServer) callTool(name string, args map[string]interface{}) (string, bool) {
	switch name {
	case "worldcal_current_date":
		return s.apiGet("/api/time")
	case "worldcal_notes_for_date":
		date, ok := argDate(args, "date")
		if !ok {
			return "date must be a date key such as 1492-3-1", true
		}
		return s.apiGet("/api/notes?date=" + url.QueryEscape(date.Key()))
	case "worldcal_occurrences":
		from, ok1 := argDate(args, "from")
		to, ok2 := argDate(args, "to")
		if !ok1 || !ok2 {
			return "from and to must be date keys such as 1492-3-1", true
		}
		return s.apiGet("/api/occurrences?from=" + url.QueryEscape(from.Key()) + "&to=" + url.QueryEscape(to.Key()))
	case "worldcal_search_notes":
		criteria := map[string]interface{}{"query": argString(args, "query")}
		if c := argString(args, "category"); c != "" {
			criteria["categories"] = []string{c}
		}
		if t := argString(args, "tag"); t != "" {
			criteria["tags"] = []string{t}
		}
		if n, ok := args["limit"].(float64); ok && n > 0 {
			criteria["limit"] = int(n)
		}
		return s.apiPost("/api/search", criteria)
	case "worldcal_create_note":
		date, ok := argDate(args, "date")
		if !ok {
			return "date must be a date key such as 1492-3-1", true
		}
		visible, _ := args["player_visible"].(bool)
		note := map[string]interface{}{
			"title":          argString(args, "title"),
			"content":        argString(args, "content"),
			"category":       argString(args, "category"),
			"start_date":     date,
			"all_day":        true,
			"player_visible": visible,
		}
		return s.apiPost("/api/notes", note)
	case "worldcal_delete_note":
		return s.apiDelete("/api/note/" + url.PathEscape(argString(args, "note_id")))
	case "worldcal_advance_time":
		amount, _ := args["amount"].(float64)
		return s.apiPost("/api/time/advance", map[string]interface{}{"unit": argString(args, "unit"), "amount": int64(amount)})
	case "worldcal_list_calendars":
		return s.apiGet("/api/calendars")
	case "worldcal_set_calendar":
		return s.apiRequest(http.MethodPut, "/api/calendars/active", map[string]string{"id": argString(args, "id")})
	}
	return "Unknown tool: " + name, true
}

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key]; ok && v != nil {
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
	return ""
}

func argDate(args map[string]interface{}, key string) (domain.CalendarDate, bool) {
	d, err := domain.ParseKey(argString(args, key))
	return d, err == nil
}

func (s *MCPServer) apiGet(path string) (string, bool) {
	return s.apiRequest(http.MethodGet, path, nil)
}

func (s *MCPServer) apiPost(path string, body interface{}) (string, bool) {
	return s.apiRequest(http.MethodPost, path, body)
}

func (s *MCPServer) apiDelete(path string) (string, bool) {
	return s.apiRequest(http.MethodDelete, path, nil)
}

func (s *MCPServer) apiRequest(method, path string, body interface{}) (string, bool) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Sprintf("Error encoding request: %v", err), true
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, s.apiURL+path, reqBody)
	if err != nil {
		return fmt.Sprintf("Error creating request: %v", err), true
	}

	req.SetBasicAuth(s.apiUsername, s.apiPassword)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error making request: %v", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), true
	}

	var apiResp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}

	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return string(respBody), resp.StatusCode >= 400
	}

	if !apiResp.Success {
		return fmt.Sprintf("API Error: %s", apiResp.Error), true
	}
	if len(apiResp.Data) == 0 {
		return "ok", false
	}

	var prettyData bytes.Buffer
	if err := json.Indent(&prettyData, apiResp.Data, "", "  "); err != nil {
		return string(apiResp.Data), false
	}

	return prettyData.String(), false
}

func main() {
	// stdout carries the protocol.
	appLog.SetOutput(os.Stderr)
	server := NewMCPServer()
	server.Run(os.Stdin, os.Stdout)
}
