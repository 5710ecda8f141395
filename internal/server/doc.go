// ABOUTME: Package documentation for the server orchestrator
// ABOUTME: Route map and lifecycle summary

// Package server assembles the running process: audit store, callback
// broker, backend, tool registry, protocol dispatcher, and security gate,
// all behind one HTTP mux.
//
// Routes:
//
//	/mcp             JSON-RPC endpoint (gated)
//	/callback-reply  host reply submission (token or gate)
//	/auth/metadata   discovery; 404 in open mode
//	/health          liveness, never gated
//	/health/ready    readiness, 503 until the backend heartbeat is ready
//	/docs            rendered tool documentation (gated)
//
// Run blocks until the context is canceled, then shuts everything down with
// a bounded grace period. When tailscale is enabled the same mux is also
// served on a tsnet listener inside the tailnet.
package server
