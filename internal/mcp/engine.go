// ABOUTME: Execution engine running tool handlers in sync or streaming mode
// ABOUTME: Owns SSE framing, panic containment, and audit recording

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/replgate/internal/store"
	"github.com/2389/replgate/internal/tools"
)

// CallRecorder persists completed tool calls. Implemented by the audit store.
type CallRecorder interface {
	RecordToolCall(ctx context.Context, rec *store.ToolCallRecord) error
}

// Engine runs tool handlers. The mode is chosen per request, not per tool:
// streaming-tagged tools run against a capturing sink on the sync path, and
// sync-tagged tools get started/complete framing on the streaming path.
type Engine struct {
	recorder CallRecorder
	logger   *slog.Logger
}

// NewEngine creates an execution engine. recorder may be nil.
func NewEngine(recorder CallRecorder, logger *slog.Logger) *Engine {
	return &Engine{
		recorder: recorder,
		logger:   logger.With("component", "engine"),
	}
}

// RunSync executes the tool and returns one result. Handler failures and
// panics become tool-level error results, never transport errors.
func (e *Engine) RunSync(ctx context.Context, sessionID string, tool *tools.Tool, args map[string]any) CallToolResult {
	started := time.Now()

	text, err := e.invokeSync(ctx, tool, args)

	var result CallToolResult
	var errText string
	if err != nil {
		errText = err.Error()
		result = errorResult(errText)
	} else {
		result = textResult(text)
	}

	e.record(sessionID, tool.Name, store.CallModeSync, started, errText)
	return result
}

// invokeSync runs the handler with panic containment. Streaming tools run
// against a capturing sink whose lines are replayed ahead of the result text.
func (e *Engine) invokeSync(ctx context.Context, tool *tools.Tool, args map[string]any) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("tool panicked", "tool", tool.Name, "panic", rec)
			text = ""
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()

	if tool.Kind == tools.KindStreaming {
		capture := &captureSink{}
		text, err = tool.Stream(ctx, args, capture)
		if err != nil {
			return "", err
		}
		return capture.prepend(text), nil
	}
	return tool.Run(ctx, args)
}

// handlerOutcome is the final return of one handler invocation.
type handlerOutcome struct {
	text string
	err  error
}

// RunStreaming executes the tool over an SSE response: a started event, any
// handler messages in order, then exactly one terminal event.
func (e *Engine) RunStreaming(w http.ResponseWriter, r *http.Request, id json.RawMessage, sessionID string, tool *tools.Tool, args map[string]any) {
	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		e.logger.Error("streaming not supported", "tool", tool.Name)
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	started := time.Now()
	ctx := r.Context()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	e.writeEvent(w, StreamEvent{Type: EventStarted})
	flusher.Flush()

	events := make(chan StreamEvent, 16)
	resultCh := make(chan handlerOutcome, 1)
	go e.invokeStreaming(ctx, tool, args, events, resultCh)

	for {
		select {
		case <-ctx.Done():
			// Client is gone; the handler unwinds on the same ctx.
			e.logger.Warn("stream cancelled", "tool", tool.Name)
			e.record(sessionID, tool.Name, store.CallModeStream, started, "request cancelled")
			return

		case ev := <-events:
			e.writeEvent(w, ev)
			flusher.Flush()

		case out := <-resultCh:
			// Messages emitted before the handler returned are still queued.
			e.drainEvents(w, events)

			var errText string
			if out.err != nil {
				errText = out.err.Error()
				e.writeEvent(w, StreamEvent{
					Type:  EventError,
					Error: &JSONRPCError{Code: JSONRPCInternalError, Message: errText},
				})
			} else {
				e.writeEvent(w, StreamEvent{
					Type: EventComplete,
					Response: &JSONRPCResponse{
						JSONRPC: "2.0",
						ID:      normalizeID(id),
						Result:  textResult(out.text),
					},
				})
			}
			flusher.Flush()
			e.record(sessionID, tool.Name, store.CallModeStream, started, errText)
			return
		}
	}
}

// invokeStreaming runs the handler on its own goroutine, reporting through
// resultCh. Sync-tagged tools run without a sink and still get framed.
func (e *Engine) invokeStreaming(ctx context.Context, tool *tools.Tool, args map[string]any, events chan<- StreamEvent, resultCh chan<- handlerOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("tool panicked", "tool", tool.Name, "panic", rec)
			resultCh <- handlerOutcome{err: fmt.Errorf("tool panicked: %v", rec)}
		}
	}()

	if tool.Kind == tools.KindStreaming {
		sink := &chanSink{ctx: ctx, events: events}
		text, err := tool.Stream(ctx, args, sink)
		resultCh <- handlerOutcome{text: text, err: err}
		return
	}

	text, err := tool.Run(ctx, args)
	resultCh <- handlerOutcome{text: text, err: err}
}

// writeEvent writes one SSE frame. Every frame uses the "message" event name;
// the payload's type field discriminates.
func (e *Engine) writeEvent(w io.Writer, ev StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("failed to marshal stream event", "error", err)
		return
	}

	fmt.Fprintf(w, "event: message\n")
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// drainEvents writes any messages still queued after the handler returned.
func (e *Engine) drainEvents(w io.Writer, events <-chan StreamEvent) {
	for {
		select {
		case ev := <-events:
			e.writeEvent(w, ev)
		default:
			return
		}
	}
}

// record appends the call to the audit trail. Failures are logged, never
// surfaced to the client.
func (e *Engine) record(sessionID, toolName string, mode store.CallMode, started time.Time, errText string) {
	if e.recorder == nil {
		return
	}

	status := store.CallStatusOK
	if errText != "" {
		status = store.CallStatusError
	}

	rec := &store.ToolCallRecord{
		SessionID:  sessionID,
		Tool:       toolName,
		Mode:       mode,
		Status:     status,
		Error:      errText,
		StartedAt:  started.UTC(),
		DurationMs: time.Since(started).Milliseconds(),
	}

	// Detached context so audit writes survive client disconnects.
	if err := e.recorder.RecordToolCall(context.Background(), rec); err != nil {
		e.logger.Warn("failed to record tool call", "tool", toolName, "error", err)
	}
}

// chanSink forwards handler messages to the streaming loop, dropping them
// once the client disconnects.
type chanSink struct {
	ctx    context.Context
	events chan<- StreamEvent
}

func (s *chanSink) Message(level, text string) {
	select {
	case s.events <- StreamEvent{Type: EventMessage, Level: level, Message: text}:
	case <-s.ctx.Done():
	}
}

// captureSink buffers sink messages for replay on the synchronous path.
type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSink) Message(level, text string) {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
}

// prepend joins the captured lines ahead of the final result text.
func (c *captureSink) prepend(final string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return final
	}
	parts := make([]string, 0, len(c.lines)+1)
	parts = append(parts, c.lines...)
	if final != "" {
		parts = append(parts, final)
	}
	return strings.Join(parts, "\n")
}
