// ABOUTME: Built-in tools: eval_code, editor_command, server_status, recent_executions, echo
// ABOUTME: Handlers close over the backend runner, callback broker, and audit store

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/replgate/internal/backend"
	"github.com/2389/replgate/internal/hostlink"
	"github.com/2389/replgate/internal/session"
	"github.com/2389/replgate/internal/store"
	"github.com/2389/replgate/internal/tools"
)

// CommandBroker issues callback tokens and awaits host replies.
type CommandBroker interface {
	Issue(correlationID string) (string, error)
	Await(ctx context.Context, correlationID string, timeout time.Duration) (any, error)
}

// AuditReader is the read side of the audit store.
type AuditReader interface {
	RecentToolCalls(ctx context.Context, limit int) ([]store.ToolCallRecord, error)
	CallStats(ctx context.Context) ([]store.CallStat, error)
}

// Deps carries the collaborators the built-in tools close over. Invoker and
// Audit may be nil; the tools that need them report that at call time.
type Deps struct {
	Runner    backend.Runner
	Health    backend.Health
	Session   *session.Session
	Broker    CommandBroker
	Invoker   hostlink.Invoker
	Audit     AuditReader
	StartedAt time.Time
	Logger    *slog.Logger
}

// Pack returns the built-in tool set.
func Pack(deps Deps) []tools.Tool {
	h := &handlers{
		runner:    deps.Runner,
		health:    deps.Health,
		session:   deps.Session,
		broker:    deps.Broker,
		invoker:   deps.Invoker,
		audit:     deps.Audit,
		startedAt: deps.StartedAt,
		logger:    deps.Logger.With("component", "builtins"),
	}

	return []tools.Tool{
		{
			ID:          "builtin:eval_code",
			Name:        "eval_code",
			Description: "Evaluate code in the attached interpreter and stream its output",
			Schema:      tools.MustSchemaFor(evalCodeArgs{}),
			Kind:        tools.KindStreaming,
			Stream:      h.EvalCode,
		},
		{
			ID:          "builtin:editor_command",
			Name:        "editor_command",
			Description: "Run an editor command on the host, optionally waiting for its result",
			Schema:      tools.MustSchemaFor(editorCommandArgs{}),
			Kind:        tools.KindSync,
			Run:         h.EditorCommand,
		},
		{
			ID:          "builtin:server_status",
			Name:        "server_status",
			Description: "Report backend health, session state, and call statistics",
			Kind:        tools.KindSync,
			Run:         h.ServerStatus,
		},
		{
			ID:          "builtin:recent_executions",
			Name:        "recent_executions",
			Description: "List the most recent tool calls from the audit trail",
			Schema:      tools.MustSchemaFor(recentExecutionsArgs{}),
			Kind:        tools.KindSync,
			Run:         h.RecentExecutions,
		},
		{
			ID:          "builtin:echo",
			Name:        "echo",
			Description: "Echo text back, for connectivity checks",
			Schema:      tools.MustSchemaFor(echoArgs{}),
			Kind:        tools.KindSync,
			Run:         h.Echo,
		},
	}
}

type handlers struct {
	runner    backend.Runner
	health    backend.Health
	session   *session.Session
	broker    CommandBroker
	invoker   hostlink.Invoker
	audit     AuditReader
	startedAt time.Time
	logger    *slog.Logger
}

// decodeArgs round-trips the argument map into a typed struct.
func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// eval_code

type evalCodeArgs struct {
	Code           string  `json:"code" description:"Source code to evaluate"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty" description:"Abort evaluation after this many seconds"`
}

func (h *handlers) EvalCode(ctx context.Context, args map[string]any, sink tools.EventSink) (string, error) {
	var in evalCodeArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Code) == "" {
		return "", errors.New("code is required")
	}

	if in.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	res, err := h.runner.Execute(ctx, in.Code)
	if err != nil {
		return "", fmt.Errorf("evaluating code: %w", err)
	}

	for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
		if line == "" {
			continue
		}
		level := "info"
		if strings.HasPrefix(line, "ERROR:") {
			level = "error"
		}
		sink.Message(level, line)
	}
	return res.Value, nil
}

// editor_command

type editorCommandArgs struct {
	Command        string   `json:"command" description:"Editor command to run on the host"`
	Args           []string `json:"args,omitempty" description:"Positional arguments for the command"`
	AwaitResult    bool     `json:"await_result,omitempty" description:"Block until the host posts its result"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty" description:"Override the default await timeout"`
}

func (h *handlers) EditorCommand(ctx context.Context, args map[string]any) (string, error) {
	var in editorCommandArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Command == "" {
		return "", errors.New("command is required")
	}
	if h.invoker == nil {
		return "", errors.New("no host endpoint configured")
	}

	requestID := uuid.New().String()
	token, err := h.broker.Issue(requestID)
	if err != nil {
		return "", err
	}

	if err := h.invoker.Invoke(ctx, hostlink.Invocation{
		RequestID: requestID,
		Token:     token,
		Command:   in.Command,
		Args:      in.Args,
	}); err != nil {
		return "", fmt.Errorf("dispatching %s: %w", in.Command, err)
	}

	h.logger.Debug("editor command dispatched",
		"request_id", requestID,
		"command", in.Command,
		"await", in.AwaitResult)

	if !in.AwaitResult {
		return fmt.Sprintf("dispatched %s (request %s)", in.Command, requestID), nil
	}

	timeout := time.Duration(in.TimeoutSeconds * float64(time.Second))
	result, err := h.broker.Await(ctx, requestID, timeout)
	if err != nil {
		return "", fmt.Errorf("waiting for %s: %w", in.Command, err)
	}

	switch v := result.(type) {
	case nil:
		return "ok", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encoding host result: %w", err)
		}
		return string(data), nil
	}
}

// server_status

func (h *handlers) ServerStatus(ctx context.Context, _ map[string]any) (string, error) {
	hb := h.health.Heartbeat()
	info := h.session.Info()

	var sb strings.Builder
	fmt.Fprintf(&sb, "backend: %s (pid %d)\n", hb.Status, hb.PID)
	if hb.Detail != "" {
		fmt.Fprintf(&sb, "backend detail: %s\n", hb.Detail)
	}
	fmt.Fprintf(&sb, "last heartbeat: %s\n", hb.LastBeat.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "session: %s (%s)\n", info.ID, info.State)
	if info.ProtocolVersion != "" {
		fmt.Fprintf(&sb, "protocol: %s\n", info.ProtocolVersion)
	}
	fmt.Fprintf(&sb, "uptime: %s\n", time.Since(h.startedAt).Round(time.Second))

	if h.audit != nil {
		stats, err := h.audit.CallStats(ctx)
		if err != nil {
			return "", fmt.Errorf("reading call stats: %w", err)
		}
		sb.WriteString("tool calls:\n")
		if len(stats) == 0 {
			sb.WriteString("  none\n")
		}
		for _, st := range stats {
			fmt.Fprintf(&sb, "  %s: %d calls, %d errors\n", st.Tool, st.Calls, st.Errors)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// recent_executions

type recentExecutionsArgs struct {
	Limit int `json:"limit,omitempty" description:"Maximum number of calls to return"`
}

func (h *handlers) RecentExecutions(ctx context.Context, args map[string]any) (string, error) {
	var in recentExecutionsArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if h.audit == nil {
		return "", errors.New("audit store not configured")
	}

	recs, err := h.audit.RecentToolCalls(ctx, in.Limit)
	if err != nil {
		return "", fmt.Errorf("reading recent calls: %w", err)
	}
	if len(recs) == 0 {
		return "no tool calls recorded", nil
	}

	var sb strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&sb, "%s  %s [%s] %s %dms",
			rec.StartedAt.UTC().Format(time.RFC3339), rec.Tool, rec.Mode, rec.Status, rec.DurationMs)
		if rec.Error != "" {
			fmt.Fprintf(&sb, " - %s", rec.Error)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// echo

type echoArgs struct {
	Text string `json:"text" description:"Text to echo back"`
}

func (h *handlers) Echo(_ context.Context, args map[string]any) (string, error) {
	var in echoArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	return in.Text, nil
}
