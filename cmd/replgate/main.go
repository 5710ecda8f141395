// ABOUTME: Entry point for the replgate MCP server
// ABOUTME: Bridges MCP clients to an interactive code-execution backend

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/replgate/internal/config"
	"github.com/2389/replgate/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                    _                 _
 _ __   ___  _ __  | |  __ _   __ _ | |_   ___
| '__| / _ \| '_ \ | | / _' | / _' || __| / _ \
| |   |  __/| |_) || || (_| || (_| || |_ |  __/
|_|    \___|| .__/ |_| \__, | \__,_| \__| \___|
            |_|        |___/
`

// getConfigPath returns the path to the security descriptor file.
// Priority: --config flag > REPLGATE_CONFIG env var > XDG_CONFIG_HOME/replgate/config.yaml > ~/.config/replgate/config.yaml
func getConfigPath(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}

	if envPath := os.Getenv("REPLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "replgate", "config.yaml")
}

// getDataPath returns the path to the replgate data directory.
// Priority: XDG_DATA_HOME/replgate > ~/.local/share/replgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "replgate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: replgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the MCP server")
		fmt.Println("  init      Create a new security descriptor interactively")
		fmt.Println("  health    Check server health")
		fmt.Println("  tools     List registered tools")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  --config PATH   Descriptor path (default ~/.config/replgate/config.yaml)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "tools":
		err = runTools(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath(os.Args[2:])

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.ListenAddr())
	green.Print("    ▶ ")
	fmt.Printf("Mode:      ")
	if cfg.Security.Mode == config.ModeOpen {
		yellow.Print(string(cfg.Security.Mode))
		if cfg.Security.AllowRemote {
			yellow.Print(" [remote allowed]")
		}
		fmt.Println()
	} else {
		fmt.Println(string(cfg.Security.Mode))
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting replgate",
		"config", configPath,
		"addr", cfg.ListenAddr(),
		"mode", cfg.Security.Mode,
	)

	// Create and run server
	srv, err := server.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath(os.Args[2:])

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.ListenAddr())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// rpcCall posts one JSON-RPC request to /mcp. A nil id sends a notification
// and returns no result.
func rpcCall(ctx context.Context, base, apiKey, method string, id any, params any) (json.RawMessage, error) {
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if id != nil {
		envelope["id"] = id
	}
	if params != nil {
		envelope["params"] = params
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if id == nil {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	var parsed struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	return parsed.Result, nil
}

// runTools performs the MCP handshake against a running server and prints
// the registered tool table. An already-initialized session is fine; the
// listing proceeds on the existing handshake.
func runTools(ctx context.Context) error {
	configPath := getConfigPath(os.Args[2:])

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base := fmt.Sprintf("http://%s", cfg.ListenAddr())
	var apiKey string
	if cfg.Security.Mode != config.ModeOpen && len(cfg.Security.APIKeys) > 0 {
		apiKey = cfg.Security.APIKeys[0]
	}

	_, err = rpcCall(ctx, base, apiKey, "initialize", 1, map[string]any{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]any{"name": "replgate-cli", "version": version},
	})
	if err != nil {
		var rpcErr *rpcError
		if !errors.As(err, &rpcErr) || !strings.Contains(rpcErr.Message, "already initialized") {
			return fmt.Errorf("initializing: %w", err)
		}
	}

	if _, err := rpcCall(ctx, base, apiKey, "notifications/initialized", nil, nil); err != nil {
		return fmt.Errorf("completing handshake: %w", err)
	}

	result, err := rpcCall(ctx, base, apiKey, "tools/list", 2, nil)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	var listing struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return fmt.Errorf("decoding tool list: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("%-20s %s\n", "NAME", "DESCRIPTION")
	for _, tool := range listing.Tools {
		desc := tool.Description
		if idx := strings.IndexByte(desc, '\n'); idx >= 0 {
			desc = desc[:idx]
		}
		fmt.Printf("%-20s %s\n", tool.Name, desc)
	}

	return nil
}

// runInit writes a fresh security descriptor. It never overwrites: pointing
// it at an existing file is an error, not a prompt.
func runInit(stdin io.Reader) error {
	reader := bufio.NewReader(stdin)

	fmt.Println("replgate descriptor setup")
	fmt.Println("=========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath(os.Args[2:])
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "audit.db")

	// Output filename
	outputFile := prompt(reader, "Descriptor file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		return fmt.Errorf("%s already exists; move it aside before running init", outputFile)
	}

	// Security configuration
	fmt.Println("\n--- Security Configuration ---")
	mode := prompt(reader, "Mode (open/key_required/key_and_allowlist)", "key_required")
	switch config.Mode(mode) {
	case config.ModeOpen, config.ModeKeyRequired, config.ModeKeyAndAllowlist:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	var apiKey, allowedIPs string
	if config.Mode(mode) != config.ModeOpen {
		apiKey = uuid.New().String()
	}
	if config.Mode(mode) == config.ModeKeyAndAllowlist {
		allowedIPs = prompt(reader, "Allowed IPs (comma-separated)", "127.0.0.1")
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	host := prompt(reader, "Listen host", "127.0.0.1")
	port := prompt(reader, "Listen port", "8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite audit database path", defaultDbPath)

	// Callback
	fmt.Println("\n--- Callback Configuration ---")
	hostEndpoint := prompt(reader, "GUI host endpoint (leave empty if none)", "")

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "replgate")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate descriptor
	var cfg strings.Builder
	cfg.WriteString("# replgate security descriptor\n")
	cfg.WriteString("# Generated by replgate init\n\n")

	cfg.WriteString("security:\n")
	cfg.WriteString(fmt.Sprintf("  mode: \"%s\"\n", mode))
	if apiKey != "" {
		cfg.WriteString("  api_keys:\n")
		cfg.WriteString(fmt.Sprintf("    - \"%s\"\n", apiKey))
	}
	if allowedIPs != "" {
		cfg.WriteString("  allowed_ips:\n")
		for _, ip := range strings.Split(allowedIPs, ",") {
			cfg.WriteString(fmt.Sprintf("    - \"%s\"\n", strings.TrimSpace(ip)))
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString(fmt.Sprintf("port: %s\n", port))
	cfg.WriteString(fmt.Sprintf("created_at: \"%s\"\n", time.Now().UTC().Format(time.RFC3339)))
	cfg.WriteString("\n")

	cfg.WriteString("server:\n")
	cfg.WriteString("  name: \"replgate\"\n")
	cfg.WriteString(fmt.Sprintf("  host: \"%s\"\n", host))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("callback:\n")
	if hostEndpoint != "" {
		cfg.WriteString(fmt.Sprintf("  host_endpoint: \"%s\"\n", hostEndpoint))
	}
	cfg.WriteString("  await_timeout: \"10s\"\n")
	cfg.WriteString("  poll_interval: \"100ms\"\n")
	cfg.WriteString("  token_ttl: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The descriptor may hold API keys, so keep it private
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	fmt.Println()
	green.Printf("  ✓ Descriptor written to %s\n", outputFile)
	if apiKey != "" {
		green.Print("  ✓ API key: ")
		fmt.Println(apiKey)
	}
	fmt.Println("\nTo start the server:")
	fmt.Printf("  replgate serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
