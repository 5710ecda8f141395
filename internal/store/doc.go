// Package store persists the audit trail: completed tool calls and rejected
// requests. It backs the recent_executions tool and operator statistics.
//
// Storage is a single SQLite database (modernc.org/sqlite, pure Go) in WAL
// mode. Timestamps are stored as RFC3339 UTC strings. Audit writes are
// advisory: callers log failures and carry on.
package store
