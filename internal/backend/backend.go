// ABOUTME: Contract between the gateway and the code-execution backend
// ABOUTME: Runner and Health interfaces plus a loopback runner for local wiring

package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Status describes the backend process state as last observed.
type Status string

const (
	StatusReady      Status = "ready"
	StatusBusy       Status = "busy"
	StatusRestarting Status = "restarting"
	StatusDown       Status = "down"
)

// Result is the outcome of one code evaluation.
type Result struct {
	// Value is the rendering of the evaluated expression.
	Value string
	// Output is incidental output captured during evaluation, newline-separated.
	Output string
}

// Heartbeat is a point-in-time snapshot of backend health.
type Heartbeat struct {
	Status   Status    `json:"status"`
	LastBeat time.Time `json:"last_beat"`
	PID      int       `json:"pid,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Runner evaluates code on the backend.
type Runner interface {
	Execute(ctx context.Context, code string) (*Result, error)
}

// Health reports backend liveness.
type Health interface {
	Heartbeat() Heartbeat
}

// Loopback is an in-process runner for default wiring and tests. It replays
// the input as prompt output and echoes the final line back as the value.
type Loopback struct{}

// NewLoopback creates a loopback runner.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Execute implements Runner without evaluating anything.
func (l *Loopback) Execute(ctx context.Context, code string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(code, "\n")
	if trimmed == "" {
		return &Result{}, nil
	}

	lines := strings.Split(trimmed, "\n")
	var out strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&out, "eval> %s\n", line)
	}
	return &Result{
		Value:  lines[len(lines)-1],
		Output: out.String(),
	}, nil
}

// Heartbeat implements Health with a fixed ready status.
func (l *Loopback) Heartbeat() Heartbeat {
	return Heartbeat{
		Status:   StatusReady,
		LastBeat: time.Now().UTC(),
		PID:      os.Getpid(),
		Detail:   "loopback",
	}
}
