// ABOUTME: Audit records for tool invocations and rejected requests
// ABOUTME: Backs the recent_executions tool and operator statistics

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallMode says which execution path served a tool call.
type CallMode string

const (
	CallModeSync   CallMode = "sync"
	CallModeStream CallMode = "stream"
)

// CallStatus is the outcome of a tool call.
type CallStatus string

const (
	CallStatusOK    CallStatus = "ok"
	CallStatusError CallStatus = "error"
)

// ToolCallRecord is one completed tools/call invocation.
type ToolCallRecord struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Tool       string     `json:"tool"`
	Mode       CallMode   `json:"mode"`
	Status     CallStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
}

// CallStat aggregates the audit trail per tool.
type CallStat struct {
	Tool   string `json:"tool"`
	Calls  int64  `json:"calls"`
	Errors int64  `json:"errors"`
}

// RecordToolCall appends a tool call to the audit trail.
// Generates ID and StartedAt if not set.
func (s *Store) RecordToolCall(ctx context.Context, rec *ToolCallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_calls (id, session_id, tool, mode, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.Tool,
		string(rec.Mode),
		string(rec.Status),
		nullString(rec.Error),
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("inserting tool call: %w", err)
	}

	s.logger.Debug("recorded tool call",
		"id", rec.ID,
		"tool", rec.Tool,
		"mode", rec.Mode,
		"status", rec.Status,
	)
	return nil
}

// RecordAuthEvent appends a rejected request to the audit trail.
func (s *Store) RecordAuthEvent(ctx context.Context, remote, reason string) error {
	query := `
		INSERT INTO auth_events (id, remote, reason, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		remote,
		reason,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting auth event: %w", err)
	}
	return nil
}

// normalizeCallLimit applies default (20) and cap (500) to the result limit.
func normalizeCallLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// RecentToolCalls returns the newest tool calls, newest first.
func (s *Store) RecentToolCalls(ctx context.Context, limit int) ([]ToolCallRecord, error) {
	query := `
		SELECT id, session_id, tool, mode, status, error, started_at, duration_ms
		FROM tool_calls
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, normalizeCallLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ToolCallRecord
	for rows.Next() {
		rec, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}

	if records == nil {
		records = []ToolCallRecord{}
	}
	return records, nil
}

// CallStats aggregates call and error counts per tool, busiest first.
func (s *Store) CallStats(ctx context.Context) ([]CallStat, error) {
	query := `
		SELECT tool,
		       COUNT(*) as calls,
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) as errors
		FROM tool_calls
		GROUP BY tool
		ORDER BY calls DESC, tool ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying call stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []CallStat
	for rows.Next() {
		var st CallStat
		if err := rows.Scan(&st.Tool, &st.Calls, &st.Errors); err != nil {
			return nil, fmt.Errorf("scanning call stat: %w", err)
		}
		stats = append(stats, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call stats: %w", err)
	}

	if stats == nil {
		stats = []CallStat{}
	}
	return stats, nil
}

// scanToolCall scans a row into a ToolCallRecord.
func scanToolCall(rows *sql.Rows) (ToolCallRecord, error) {
	var rec ToolCallRecord
	var modeStr, statusStr, startedStr string
	var errText sql.NullString

	if err := rows.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.Tool,
		&modeStr,
		&statusStr,
		&errText,
		&startedStr,
		&rec.DurationMs,
	); err != nil {
		return rec, fmt.Errorf("scanning tool call: %w", err)
	}

	rec.Mode = CallMode(modeStr)
	rec.Status = CallStatus(statusStr)
	if errText.Valid {
		rec.Error = errText.String
	}

	var err error
	rec.StartedAt, err = time.Parse(time.RFC3339, startedStr)
	if err != nil {
		return rec, fmt.Errorf("parsing started_at: %w", err)
	}
	return rec, nil
}
