// ABOUTME: Package documentation for the built-in tool set
// ABOUTME: Lists the tools and their collaborators

// Package builtins provides the tools every server exposes.
//
//	eval_code          streaming; runs code on the backend interpreter
//	editor_command     sync; round-trips a command through the host callback
//	server_status      sync; backend health, session state, call statistics
//	recent_executions  sync; newest entries from the audit trail
//	echo               sync; connectivity check
//
// Handlers decode their arguments into typed structs whose description tags
// feed the generated input schemas.
package builtins
