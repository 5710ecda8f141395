// ABOUTME: JSON-RPC dispatcher for the protocol endpoint
// ABOUTME: Routes initialize, session/info, tools/list, and tools/call requests

package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/replgate/internal/session"
	"github.com/2389/replgate/internal/tools"
)

// Config holds the dispatcher's dependencies.
type Config struct {
	Session  *session.Session
	Registry *tools.Registry
	Engine   *Engine
	Logger   *slog.Logger
}

// Server dispatches JSON-RPC requests arriving on the protocol endpoint.
type Server struct {
	session  *session.Session
	registry *tools.Registry
	engine   *Engine
	logger   *slog.Logger
}

// NewServer creates a dispatcher from cfg.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		session:  cfg.Session,
		registry: cfg.Registry,
		engine:   cfg.Engine,
		logger:   logger.With("component", "mcp"),
	}, nil
}

// Handler returns the protocol endpoint handler, ready for middleware.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleMCP)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete closes the session. Closing twice is harmless.
func (s *Server) handleDelete(w http.ResponseWriter, _ *http.Request) {
	s.session.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic in request handler", "panic", rec)
			s.sendJSONRPCError(w, nil, JSONRPCInternalError, "internal error", nil)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "empty request body", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, extractID(body), JSONRPCInvalidRequest, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "jsonrpc must be \"2.0\"", nil)
		return
	}

	// Notifications carry no id and never get a response body.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		s.handleNotification(w, req)
		return
	}

	switch req.Method {
	case "":
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "method is required", nil)
	case "initialize":
		s.handleInitialize(w, req)
	case "notifications/initialized":
		s.session.NotifyInitialized()
		w.WriteHeader(http.StatusAccepted)
	default:
		// Everything else requires a completed handshake.
		if s.session.State() != session.StateInitialized {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "session not initialized", nil)
			return
		}
		switch req.Method {
		case "session/info":
			s.handleSessionInfo(w, req)
		case "tools/list":
			s.handleToolsList(w, req)
		case "tools/call":
			s.handleToolsCall(w, r, req)
		default:
			s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
		}
	}
}

// handleNotification acknowledges id-less requests with 202 and no body.
func (s *Server) handleNotification(w http.ResponseWriter, req JSONRPCRequest) {
	switch req.Method {
	case "notifications/initialized":
		s.session.NotifyInitialized()
	default:
		s.logger.Debug("ignoring notification", "method", req.Method)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	var params session.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	result, err := s.session.Initialize(params)
	if err != nil {
		s.sendSessionError(w, req.ID, err)
		return
	}

	s.sendJSONRPCResult(w, req.ID, result)
}

// sendSessionError maps session errors onto JSON-RPC codes: bad parameters
// are InvalidParams, handshakes attempted in the wrong state are
// InvalidRequest.
func (s *Server) sendSessionError(w http.ResponseWriter, id json.RawMessage, err error) {
	code := JSONRPCInternalError
	switch {
	case errors.Is(err, session.ErrMissingParameter), errors.Is(err, session.ErrUnsupportedVersion):
		code = JSONRPCInvalidParams
	case errors.Is(err, session.ErrAlreadyInitialized), errors.Is(err, session.ErrClosed):
		code = JSONRPCInvalidRequest
	}
	s.sendJSONRPCError(w, id, code, err.Error(), nil)
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, req JSONRPCRequest) {
	s.sendJSONRPCResult(w, req.ID, s.session.Info())
}

func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	descriptors := s.registry.List()
	result := ListToolsResult{Tools: make([]ToolInfo, 0, len(descriptors))}
	for _, d := range descriptors {
		result.Tools = append(result.Tools, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	tool, ok := s.registry.Lookup(params.Name)
	if !ok {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name), nil)
		return
	}

	args, err := decodeArguments(params.Arguments)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "arguments must be an object", nil)
		return
	}

	streaming := wantsStream(r, params)
	s.logger.Debug("tools/call", "tool_name", params.Name, "streaming", streaming)

	if streaming {
		s.engine.RunStreaming(w, r, req.ID, s.session.ID(), tool, args)
		return
	}

	result := s.engine.RunSync(r.Context(), s.session.ID(), tool, args)
	s.sendJSONRPCResult(w, req.ID, result)
}

// wantsStream reports whether the client asked for the streaming path, via
// the Accept header or the per-call stream flag.
func wantsStream(r *http.Request, params CallToolParams) bool {
	if params.Stream {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// decodeArguments parses the arguments object, defaulting to empty.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// extractID pulls the request id out of a malformed body when possible.
func extractID(body []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe.ID
}

// normalizeID substitutes the default id for requests where none could be
// recovered, so every error response still carries one.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return json.RawMessage("0")
	}
	return id
}

func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Result:  result,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode error response", "error", err)
	}
}
