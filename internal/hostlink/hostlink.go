// ABOUTME: Outbound HTTP dispatch of editor commands to the host process
// ABOUTME: Fire-and-forget POST; results come back through the callback broker

package hostlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Invocation is one command dispatch to the host editor. The token travels
// with it so the host can authenticate its reply.
type Invocation struct {
	RequestID string   `json:"request_id"`
	Token     string   `json:"token"`
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`
}

// Invoker dispatches invocations to the host process.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// HTTPInvoker posts invocations as JSON to a fixed host endpoint.
type HTTPInvoker struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPInvoker creates an invoker for the given endpoint. timeout bounds
// the whole POST; zero means 10 seconds.
func NewHTTPInvoker(endpoint string, timeout time.Duration, logger *slog.Logger) (*HTTPInvoker, error) {
	if endpoint == "" {
		return nil, errors.New("host endpoint is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPInvoker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "hostlink"),
	}, nil
}

// Invoke posts the invocation. A non-2xx status is an error; the host's
// actual result arrives later through the callback endpoint.
func (h *HTTPInvoker) Invoke(ctx context.Context, inv Invocation) error {
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encoding invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting invocation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("host returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	h.logger.Debug("invocation dispatched",
		"request_id", inv.RequestID,
		"command", inv.Command)
	return nil
}
