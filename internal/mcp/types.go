// ABOUTME: Wire types for the JSON-RPC protocol surface and streamed events
// ABOUTME: Shared by the dispatcher, execution engine, and tests

package mcp

import "encoding/json"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Protocol result shapes

// ToolInfo represents a tool definition in tools/list.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// Stream requests the streaming path without Accept header negotiation.
	Stream bool `json:"stream,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Streamed event payloads. Every SSE frame is "event: message" with one of
// these as data; Type discriminates.

const (
	EventStarted  = "started"
	EventMessage  = "message"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one streamed payload. started has only Type; message adds
// Level and Message; complete carries the full response envelope; error
// carries the JSON-RPC error object.
type StreamEvent struct {
	Type     string           `json:"type"`
	Level    string           `json:"level,omitempty"`
	Message  string           `json:"message,omitempty"`
	Response *JSONRPCResponse `json:"response,omitempty"`
	Error    *JSONRPCError    `json:"error,omitempty"`
}

// textResult wraps plain text in the standard tool result shape.
func textResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// errorResult wraps a failure message as a tool-level error result.
func errorResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}
