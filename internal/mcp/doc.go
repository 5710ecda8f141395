// ABOUTME: Package documentation for the JSON-RPC protocol surface
// ABOUTME: Describes the endpoint, method routing, and streaming semantics

// Package mcp implements the JSON-RPC 2.0 endpoint that clients speak to.
//
// All protocol traffic arrives as HTTP POST on a single endpoint. The
// dispatcher parses the envelope, enforces the handshake ordering, and
// routes by method:
//
//   - initialize               negotiate a protocol version, open the session
//   - notifications/initialized  acknowledge the handshake (202, no body)
//   - session/info             snapshot of the session state
//   - tools/list               registered tool descriptors
//   - tools/call               run a tool, sync or streaming
//
// Malformed envelopes (empty body, bad JSON, wrong jsonrpc version, missing
// method) are answered with code -32600. Methods other than initialize are
// rejected with the same code until the handshake completes. Requests
// without an id are notifications and get HTTP 202 with no body.
//
// tools/call runs in one of two modes chosen per request: when the Accept
// header includes text/event-stream or the params carry "stream": true, the
// response is an SSE stream of started/message/complete events with exactly
// one terminal event; otherwise a single JSON-RPC response is returned.
// Handler errors and panics become tool-level error results (isError: true),
// not transport errors, so clients can distinguish "the tool failed" from
// "the protocol broke".
//
// Completed calls are appended to the audit store with their mode, status,
// and duration.
package mcp
