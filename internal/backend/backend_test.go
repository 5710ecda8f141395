// ABOUTME: Tests for the loopback runner
// ABOUTME: Covers value echo, synthesized output, and context cancellation

package backend

import (
	"context"
	"testing"
)

func TestLoopback_Execute(t *testing.T) {
	run := NewLoopback()

	result, err := run.Execute(context.Background(), "x := 1\nx + 1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Value != "x + 1" {
		t.Errorf("Value = %q, want %q", result.Value, "x + 1")
	}
	if result.Output != "eval> x := 1\neval> x + 1\n" {
		t.Errorf("Output = %q", result.Output)
	}
}

func TestLoopback_ExecuteEmpty(t *testing.T) {
	run := NewLoopback()

	result, err := run.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Value != "" || result.Output != "" {
		t.Errorf("got Value=%q Output=%q, want both empty", result.Value, result.Output)
	}
}

func TestLoopback_ExecuteCancelled(t *testing.T) {
	run := NewLoopback()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := run.Execute(ctx, "1"); err == nil {
		t.Fatal("Execute() with cancelled context succeeded, want error")
	}
}

func TestLoopback_Heartbeat(t *testing.T) {
	run := NewLoopback()

	hb := run.Heartbeat()
	if hb.Status != StatusReady {
		t.Errorf("Status = %q, want %q", hb.Status, StatusReady)
	}
	if hb.PID == 0 {
		t.Error("PID = 0, want current process id")
	}
	if hb.LastBeat.IsZero() {
		t.Error("LastBeat is zero, want current time")
	}
}
