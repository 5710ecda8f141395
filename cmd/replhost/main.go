// ABOUTME: GUI-host simulator for exercising editor_command end to end.
// ABOUTME: Receives invocations over HTTP, runs a canned command table, posts replies back.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/replgate/internal/hostlink"
)

// duration lets TOML carry values like "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type hostConfig struct {
	// Listen is the address the invocation endpoint binds to.
	Listen string `toml:"listen"`
	// ServerURL is the replgate base URL replies are posted to.
	ServerURL string `toml:"server_url"`
	// APIKey authenticates replies when the token is lost; usually empty.
	APIKey string `toml:"api_key"`
	// ReplyDelay simulates the editor taking time to act.
	ReplyDelay duration `toml:"reply_delay"`
	// Commands maps extra command names to literal reply strings. "{args}"
	// expands to the space-joined arguments.
	Commands map[string]string `toml:"commands"`
}

func defaultConfig() hostConfig {
	return hostConfig{
		Listen:     "127.0.0.1:7777",
		ServerURL:  "http://127.0.0.1:8080",
		ReplyDelay: duration{100 * time.Millisecond},
	}
}

// loadConfig reads the TOML config. A missing file is fine; the defaults
// make the simulator usable with zero setup.
func loadConfig(path string) (hostConfig, error) {
	cfg := defaultConfig()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "replhost.toml", "TOML config path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	serverURL := flag.String("server", "", "replgate base URL (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg hostConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	host := &simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", host.handleInvoke)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("replhost listening on %s, replying to %s", cfg.Listen, cfg.ServerURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

type simulator struct {
	cfg    hostConfig
	client *http.Client
}

// handleInvoke acknowledges the invocation immediately and posts the result
// back asynchronously, the way a real editor plugin would.
func (s *simulator) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var inv hostlink.Invocation
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&inv); err != nil {
		http.Error(w, "invalid invocation", http.StatusBadRequest)
		return
	}
	if inv.RequestID == "" || inv.Command == "" {
		http.Error(w, "request_id and command are required", http.StatusBadRequest)
		return
	}

	log.Printf("invocation [%s]: %s %v", inv.RequestID, inv.Command, inv.Args)
	w.WriteHeader(http.StatusAccepted)

	go s.reply(inv)
}

// callbackReply is the wire shape of POST /callback-reply.
type callbackReply struct {
	RequestID string `json:"request_id"`
	Token     string `json:"token,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *simulator) reply(inv hostlink.Invocation) {
	// Simulate the editor taking time to act
	time.Sleep(s.cfg.ReplyDelay.Duration)

	result, errText := s.execute(inv.Command, inv.Args)

	body, err := json.Marshal(callbackReply{
		RequestID: inv.RequestID,
		Token:     inv.Token,
		Result:    result,
		Error:     errText,
	})
	if err != nil {
		log.Printf("encoding reply [%s]: %v", inv.RequestID, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.cfg.ServerURL+"/callback-reply", bytes.NewReader(body))
	if err != nil {
		log.Printf("building reply [%s]: %v", inv.RequestID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("posting reply [%s]: %v", inv.RequestID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("reply [%s] rejected: status %d: %s", inv.RequestID, resp.StatusCode, bytes.TrimSpace(snippet))
		return
	}
	log.Printf("reply [%s] delivered", inv.RequestID)
}

// execute runs one canned command. Config-table entries win over the
// built-in set so tests can script specific replies.
func (s *simulator) execute(command string, args []string) (any, string) {
	if tmpl, ok := s.cfg.Commands[command]; ok {
		return strings.ReplaceAll(tmpl, "{args}", strings.Join(args, " ")), ""
	}

	switch command {
	case "open_file":
		if len(args) == 0 {
			return nil, "open_file requires a path"
		}
		return map[string]any{"path": args[0], "status": "opened"}, ""
	case "save_file":
		if len(args) == 0 {
			return nil, "save_file requires a path"
		}
		return map[string]any{"path": args[0], "status": "saved"}, ""
	case "current_selection":
		return map[string]any{"text": "x := compute()\nreturn x", "start": 14, "end": 38}, ""
	case "list_buffers":
		return []string{"main.go", "main_test.go", "README.md"}, ""
	case "ping":
		return "pong", ""
	default:
		return nil, fmt.Sprintf("unknown command: %s", command)
	}
}
