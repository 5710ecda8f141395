// ABOUTME: Server orchestrator wiring the gate, dispatcher, broker, and store
// ABOUTME: Owns the HTTP mux, auxiliary endpoints, and component lifecycle

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"tailscale.com/tsnet"

	"github.com/2389/replgate/internal/backend"
	"github.com/2389/replgate/internal/builtins"
	"github.com/2389/replgate/internal/callback"
	"github.com/2389/replgate/internal/config"
	"github.com/2389/replgate/internal/hostlink"
	"github.com/2389/replgate/internal/mcp"
	"github.com/2389/replgate/internal/security"
	"github.com/2389/replgate/internal/session"
	"github.com/2389/replgate/internal/store"
	"github.com/2389/replgate/internal/tools"
)

// Server coordinates the protocol endpoint and its supporting components.
type Server struct {
	config   *config.Config
	store    *store.Store
	session  *session.Session
	registry *tools.Registry
	broker   *callback.Broker
	health   backend.Health
	gate     *security.Gate
	mcp      *mcp.Server

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	startedAt time.Time
	logger    *slog.Logger
}

// New creates a server instance from cfg. version names the build in the
// handshake and discovery responses.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	st, err := store.New(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	broker, err := callback.New(cfg.Callback, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating callback broker: %w", err)
	}

	// The invoker stays nil without a host endpoint; editor_command reports
	// that at call time.
	var invoker hostlink.Invoker
	if cfg.Callback.HostEndpoint != "" {
		httpInvoker, err := hostlink.NewHTTPInvoker(cfg.Callback.HostEndpoint, 10*time.Second, logger)
		if err != nil {
			broker.Close()
			_ = st.Close()
			return nil, fmt.Errorf("creating host invoker: %w", err)
		}
		invoker = httpInvoker
	}

	lb := backend.NewLoopback()
	sess := session.New(cfg.Server.Name, version, logger)
	startedAt := time.Now()

	registry, err := tools.New(builtins.Pack(builtins.Deps{
		Runner:    lb,
		Health:    lb,
		Session:   sess,
		Broker:    broker,
		Invoker:   invoker,
		Audit:     st,
		StartedAt: startedAt,
		Logger:    logger,
	}))
	if err != nil {
		broker.Close()
		_ = st.Close()
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Session:  sess,
		Registry: registry,
		Engine:   mcp.NewEngine(st, logger),
		Logger:   logger,
	})
	if err != nil {
		broker.Close()
		_ = st.Close()
		return nil, fmt.Errorf("creating protocol server: %w", err)
	}

	s := &Server{
		config:    cfg,
		store:     st,
		session:   sess,
		registry:  registry,
		broker:    broker,
		health:    lb,
		gate:      security.New(cfg, version, st, logger),
		mcp:       mcpServer,
		startedAt: startedAt,
		logger:    logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	// Health endpoints bypass the gate so supervisors can always probe.
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	// Discovery 404s in open mode; no gate either way.
	mux.Handle("/auth/metadata", s.gate.MetadataHandler())

	// Token-carrying callback replies authenticate themselves; the handler
	// applies the gate only to token-less replies.
	mux.HandleFunc("/callback-reply", s.handleCallbackReply)

	mux.Handle("/mcp", s.gate.Wrap(s.mcp.Handler()))
	mux.Handle("/docs", s.gate.Wrap(http.HandlerFunc(s.handleDocs)))

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// handleHealth returns 200 if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// handleReady returns 200 once the backend heartbeat reports ready.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	hb := s.health.Heartbeat()

	w.Header().Set("Content-Type", "application/json")
	if hb.Status != backend.StatusReady {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "backend": string(hb.Status)})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready", "backend": string(hb.Status)})
}

// callbackReplyRequest is the body the host posts back after an invocation.
type callbackReplyRequest struct {
	RequestID string          `json:"request_id"`
	Token     string          `json:"token,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleCallbackReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req callbackReplyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, mcp.MaxRequestBodySize)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		http.Error(w, `{"error":"request_id is required"}`, http.StatusBadRequest)
		return
	}

	var result any
	if len(req.Result) > 0 {
		if err := json.Unmarshal(req.Result, &result); err != nil {
			http.Error(w, `{"error":"invalid result payload"}`, http.StatusBadRequest)
			return
		}
	}

	var err error
	if req.Token != "" {
		err = s.broker.SubmitReply(req.RequestID, req.Token, result, req.Error)
	} else {
		// No token: the standard gate vouches for the caller instead.
		if denial := s.gate.Check(r); denial != nil {
			s.gate.Deny(w, r, denial)
			return
		}
		err = s.broker.SubmitReplyFallback(req.RequestID, result, req.Error)
	}
	if err != nil {
		s.writeCallbackError(w, req.RequestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// writeCallbackError maps broker errors onto HTTP statuses.
func (s *Server) writeCallbackError(w http.ResponseWriter, requestID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, callback.ErrUnknownCorrelation):
		status = http.StatusNotFound
	case errors.Is(err, callback.ErrTokenMismatch),
		errors.Is(err, callback.ErrInvalidToken),
		errors.Is(err, callback.ErrExpiredToken):
		status = http.StatusForbidden
	}

	s.logger.Warn("callback reply rejected", "request_id", requestID, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// handleDocs renders the registered tools as an HTML page.
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var md bytes.Buffer
	fmt.Fprintf(&md, "# %s tools\n\n", s.config.Server.Name)
	for _, d := range s.registry.List() {
		fmt.Fprintf(&md, "## %s\n\n%s\n\n", d.Name, d.Description)
		if len(d.InputSchema) > 0 {
			fmt.Fprintf(&md, "```json\n%s\n```\n\n", d.InputSchema)
		}
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &htmlBuf); err != nil {
		s.logger.Error("failed to convert markdown", "error", err)
		http.Error(w, "failed to render docs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, docsPage, s.config.Server.Name, htmlBuf.String())
}

const docsPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s tools</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
pre { background: #f4f4f4; padding: 0.5rem; overflow-x: auto; }
</style>
</head>
<body>
%s
</body>
</html>
`
