// ABOUTME: Tests for the built-in tools
// ABOUTME: Uses fakes for the broker, invoker, and audit store

package builtins

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/2389/replgate/internal/backend"
	"github.com/2389/replgate/internal/callback"
	"github.com/2389/replgate/internal/hostlink"
	"github.com/2389/replgate/internal/session"
	"github.com/2389/replgate/internal/store"
	"github.com/2389/replgate/internal/tools"
)

type fakeBroker struct {
	issued      []string
	awaitResult any
	awaitErr    error
	awaited     string
	timeout     time.Duration
}

func (f *fakeBroker) Issue(correlationID string) (string, error) {
	f.issued = append(f.issued, correlationID)
	return "token-" + correlationID, nil
}

func (f *fakeBroker) Await(_ context.Context, correlationID string, timeout time.Duration) (any, error) {
	f.awaited = correlationID
	f.timeout = timeout
	return f.awaitResult, f.awaitErr
}

type fakeInvoker struct {
	invocations []hostlink.Invocation
	err         error
}

func (f *fakeInvoker) Invoke(_ context.Context, inv hostlink.Invocation) error {
	f.invocations = append(f.invocations, inv)
	return f.err
}

type fakeAudit struct {
	records  []store.ToolCallRecord
	stats    []store.CallStat
	gotLimit int
}

func (f *fakeAudit) RecentToolCalls(_ context.Context, limit int) ([]store.ToolCallRecord, error) {
	f.gotLimit = limit
	return f.records, nil
}

func (f *fakeAudit) CallStats(context.Context) ([]store.CallStat, error) {
	return f.stats, nil
}

type fakeRunner struct {
	result *backend.Result
	err    error
}

func (f *fakeRunner) Execute(context.Context, string) (*backend.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testSink struct {
	levels   []string
	messages []string
}

func (s *testSink) Message(level, text string) {
	s.levels = append(s.levels, level)
	s.messages = append(s.messages, text)
}

func newDeps(t *testing.T) (Deps, *fakeBroker, *fakeInvoker, *fakeAudit) {
	t.Helper()

	broker := &fakeBroker{}
	invoker := &fakeInvoker{}
	audit := &fakeAudit{}
	lb := backend.NewLoopback()

	return Deps{
		Runner:    lb,
		Health:    lb,
		Session:   session.New("replgate", "1.0.0", slog.Default()),
		Broker:    broker,
		Invoker:   invoker,
		Audit:     audit,
		StartedAt: time.Now().Add(-3 * time.Second),
		Logger:    slog.Default(),
	}, broker, invoker, audit
}

func toolByName(t *testing.T, list []tools.Tool, name string) tools.Tool {
	t.Helper()
	for _, tool := range list {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return tools.Tool{}
}

func TestPack_RegistersAll(t *testing.T) {
	deps, _, _, _ := newDeps(t)

	registry, err := tools.New(Pack(deps))
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	if registry.Len() != 5 {
		t.Errorf("Len() = %d, want 5", registry.Len())
	}

	for _, name := range []string{"eval_code", "editor_command", "server_status", "recent_executions", "echo"} {
		if _, ok := registry.Lookup(name); !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestEvalCode(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	tool := toolByName(t, Pack(deps), "eval_code")

	sink := &testSink{}
	value, err := tool.Stream(context.Background(), map[string]any{"code": "x := 1\nx + 1"}, sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if value != "x + 1" {
		t.Errorf("value = %q, want %q", value, "x + 1")
	}
	wantLines := []string{"eval> x := 1", "eval> x + 1"}
	if len(sink.messages) != len(wantLines) {
		t.Fatalf("len(messages) = %d, want %d: %v", len(sink.messages), len(wantLines), sink.messages)
	}
	for i, want := range wantLines {
		if sink.messages[i] != want {
			t.Errorf("messages[%d] = %q, want %q", i, sink.messages[i], want)
		}
		if sink.levels[i] != "info" {
			t.Errorf("levels[%d] = %q, want info", i, sink.levels[i])
		}
	}
}

func TestEvalCode_MissingCode(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	tool := toolByName(t, Pack(deps), "eval_code")

	_, err := tool.Stream(context.Background(), map[string]any{}, &testSink{})
	if err == nil || !strings.Contains(err.Error(), "code is required") {
		t.Errorf("error = %v, want code is required", err)
	}
}

func TestEvalCode_ErrorLines(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	deps.Runner = &fakeRunner{result: &backend.Result{
		Output: "starting\nERROR: undefined symbol\n",
		Value:  "",
	}}
	tool := toolByName(t, Pack(deps), "eval_code")

	sink := &testSink{}
	if _, err := tool.Stream(context.Background(), map[string]any{"code": "nope"}, sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if len(sink.levels) != 2 {
		t.Fatalf("len(levels) = %d, want 2", len(sink.levels))
	}
	if sink.levels[0] != "info" || sink.levels[1] != "error" {
		t.Errorf("levels = %v, want [info error]", sink.levels)
	}
}

func TestEvalCode_RunnerFailure(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	deps.Runner = &fakeRunner{err: errors.New("interpreter down")}
	tool := toolByName(t, Pack(deps), "eval_code")

	_, err := tool.Stream(context.Background(), map[string]any{"code": "1"}, &testSink{})
	if err == nil || !strings.Contains(err.Error(), "interpreter down") {
		t.Errorf("error = %v, want interpreter down", err)
	}
}

func TestEditorCommand_Dispatch(t *testing.T) {
	deps, broker, invoker, _ := newDeps(t)
	tool := toolByName(t, Pack(deps), "editor_command")

	out, err := tool.Run(context.Background(), map[string]any{
		"command": "open_file",
		"args":    []any{"main.go", "42"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(invoker.invocations) != 1 {
		t.Fatalf("len(invocations) = %d, want 1", len(invoker.invocations))
	}
	inv := invoker.invocations[0]
	if inv.Command != "open_file" {
		t.Errorf("Command = %q, want open_file", inv.Command)
	}
	if len(inv.Args) != 2 || inv.Args[0] != "main.go" {
		t.Errorf("Args = %v, want [main.go 42]", inv.Args)
	}
	if inv.RequestID == "" || inv.Token != "token-"+inv.RequestID {
		t.Errorf("invocation token %q does not match request id %q", inv.Token, inv.RequestID)
	}
	if len(broker.issued) != 1 || broker.issued[0] != inv.RequestID {
		t.Errorf("issued = %v, want [%s]", broker.issued, inv.RequestID)
	}
	if !strings.Contains(out, "dispatched open_file") {
		t.Errorf("output = %q, want dispatch confirmation", out)
	}
	if broker.awaited != "" {
		t.Error("Await was called without await_result")
	}
}

func TestEditorCommand_AwaitResult(t *testing.T) {
	deps, broker, invoker, _ := newDeps(t)
	broker.awaitResult = map[string]any{"path": "main.go"}
	tool := toolByName(t, Pack(deps), "editor_command")

	out, err := tool.Run(context.Background(), map[string]any{
		"command":         "current_file",
		"await_result":    true,
		"timeout_seconds": 2,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out, "main.go") {
		t.Errorf("output = %q, want host result", out)
	}
	if broker.awaited != invoker.invocations[0].RequestID {
		t.Errorf("awaited %q, want %q", broker.awaited, invoker.invocations[0].RequestID)
	}
	if broker.timeout != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", broker.timeout)
	}
}

func TestEditorCommand_StringResult(t *testing.T) {
	deps, broker, _, _ := newDeps(t)
	broker.awaitResult = "done"
	tool := toolByName(t, Pack(deps), "editor_command")

	out, err := tool.Run(context.Background(), map[string]any{
		"command":      "save_all",
		"await_result": true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "done" {
		t.Errorf("output = %q, want done", out)
	}
}

func TestEditorCommand_AwaitTimeout(t *testing.T) {
	deps, broker, _, _ := newDeps(t)
	broker.awaitErr = callback.ErrAwaitTimeout
	tool := toolByName(t, Pack(deps), "editor_command")

	_, err := tool.Run(context.Background(), map[string]any{
		"command":      "current_file",
		"await_result": true,
	})
	if !errors.Is(err, callback.ErrAwaitTimeout) {
		t.Errorf("error = %v, want ErrAwaitTimeout", err)
	}
}

func TestEditorCommand_Validation(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	tool := toolByName(t, Pack(deps), "editor_command")

	_, err := tool.Run(context.Background(), map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "command is required") {
		t.Errorf("error = %v, want command is required", err)
	}
}

func TestEditorCommand_NoInvoker(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	deps.Invoker = nil
	tool := toolByName(t, Pack(deps), "editor_command")

	_, err := tool.Run(context.Background(), map[string]any{"command": "open_file"})
	if err == nil || !strings.Contains(err.Error(), "no host endpoint configured") {
		t.Errorf("error = %v, want no host endpoint configured", err)
	}
}

func TestEditorCommand_InvokeFails(t *testing.T) {
	deps, _, invoker, _ := newDeps(t)
	invoker.err = errors.New("connection refused")
	tool := toolByName(t, Pack(deps), "editor_command")

	_, err := tool.Run(context.Background(), map[string]any{"command": "open_file"})
	if err == nil || !strings.Contains(err.Error(), "dispatching open_file") {
		t.Errorf("error = %v, want dispatching open_file", err)
	}
}

func TestServerStatus(t *testing.T) {
	deps, _, _, audit := newDeps(t)
	audit.stats = []store.CallStat{
		{Tool: "echo", Calls: 2, Errors: 0},
		{Tool: "eval_code", Calls: 1, Errors: 1},
	}

	if _, err := deps.Session.Initialize(session.InitializeParams{ProtocolVersion: "2024-11-05"}); err != nil {
		t.Fatalf("initializing session: %v", err)
	}

	tool := toolByName(t, Pack(deps), "server_status")
	out, err := tool.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, want := range []string{
		"backend: ready",
		"session:",
		"(initialized)",
		"protocol: 2024-11-05",
		"uptime:",
		"echo: 2 calls, 0 errors",
		"eval_code: 1 calls, 1 errors",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRecentExecutions(t *testing.T) {
	deps, _, _, audit := newDeps(t)
	audit.records = []store.ToolCallRecord{
		{Tool: "echo", Mode: store.CallModeSync, Status: store.CallStatusOK, StartedAt: time.Now(), DurationMs: 3},
		{Tool: "eval_code", Mode: store.CallModeStream, Status: store.CallStatusError, Error: "boom", StartedAt: time.Now(), DurationMs: 14},
	}

	tool := toolByName(t, Pack(deps), "recent_executions")
	out, err := tool.Run(context.Background(), map[string]any{"limit": 5})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if audit.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", audit.gotLimit)
	}
	if !strings.Contains(out, "echo [sync] ok 3ms") {
		t.Errorf("output missing echo line:\n%s", out)
	}
	if !strings.Contains(out, "eval_code [stream] error 14ms - boom") {
		t.Errorf("output missing eval_code line:\n%s", out)
	}
}

func TestRecentExecutions_Empty(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	tool := toolByName(t, Pack(deps), "recent_executions")

	out, err := tool.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "no tool calls recorded" {
		t.Errorf("output = %q, want no tool calls recorded", out)
	}
}

func TestEcho(t *testing.T) {
	deps, _, _, _ := newDeps(t)
	tool := toolByName(t, Pack(deps), "echo")

	out, err := tool.Run(context.Background(), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "hi" {
		t.Errorf("output = %q, want hi", out)
	}
}
