// ABOUTME: Package documentation for the host command dispatcher
// ABOUTME: Explains the invoke-then-callback round trip

// Package hostlink dispatches editor commands to the host process over HTTP.
//
// Dispatch is one half of a round trip: the server POSTs an invocation
// carrying a single-use token, the host performs the command, and the host
// POSTs its result back to the callback endpoint where the broker matches it
// by request id. A successful Invoke means only that the host accepted the
// command, not that it finished.
package hostlink
