// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, port override, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
security:
  mode: "key_required"
  api_keys:
    - "test-key-1"
    - "test-key-2"

port: 9090
created_at: "2026-08-01T00:00:00Z"

server:
  name: "replgate-test"
  host: "0.0.0.0"
  trust_proxy_header: true

callback:
  await_timeout: "30s"
  poll_interval: "50ms"
  token_ttl: "2m"
  host_endpoint: "http://127.0.0.1:8750/invoke"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify security config
	if cfg.Security.Mode != ModeKeyRequired {
		t.Errorf("Security.Mode = %q, want %q", cfg.Security.Mode, ModeKeyRequired)
	}
	if len(cfg.Security.APIKeys) != 2 {
		t.Errorf("len(Security.APIKeys) = %d, want 2", len(cfg.Security.APIKeys))
	}

	// Verify server config
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want %d", cfg.Port, 9090)
	}
	if cfg.CreatedAt != "2026-08-01T00:00:00Z" {
		t.Errorf("CreatedAt = %q, want %q", cfg.CreatedAt, "2026-08-01T00:00:00Z")
	}
	if cfg.Server.Name != "replgate-test" {
		t.Errorf("Server.Name = %q, want %q", cfg.Server.Name, "replgate-test")
	}
	if !cfg.Server.TrustProxyHeader {
		t.Error("Server.TrustProxyHeader = false, want true")
	}
	if cfg.ListenAddr() != "0.0.0.0:9090" {
		t.Errorf("ListenAddr() = %q, want %q", cfg.ListenAddr(), "0.0.0.0:9090")
	}

	// Verify callback durations were parsed
	if cfg.Callback.AwaitTimeout != 30*time.Second {
		t.Errorf("Callback.AwaitTimeout = %v, want 30s", cfg.Callback.AwaitTimeout)
	}
	if cfg.Callback.PollInterval != 50*time.Millisecond {
		t.Errorf("Callback.PollInterval = %v, want 50ms", cfg.Callback.PollInterval)
	}
	if cfg.Callback.TokenTTL != 2*time.Minute {
		t.Errorf("Callback.TokenTTL = %v, want 2m", cfg.Callback.TokenTTL)
	}
	if cfg.Callback.HostEndpoint != "http://127.0.0.1:8750/invoke" {
		t.Errorf("Callback.HostEndpoint = %q, want %q", cfg.Callback.HostEndpoint, "http://127.0.0.1:8750/invoke")
	}

	// Verify database and logging config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Security.Mode != ModeOpen {
		t.Errorf("Security.Mode = %q, want %q", cfg.Security.Mode, ModeOpen)
	}
	if cfg.Security.AllowRemote {
		t.Error("Security.AllowRemote = true, want false")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want %d", cfg.Port, 8080)
	}
	if cfg.Server.Name != "replgate" {
		t.Errorf("Server.Name = %q, want %q", cfg.Server.Name, "replgate")
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Callback.AwaitTimeout != 10*time.Second {
		t.Errorf("Callback.AwaitTimeout = %v, want 10s", cfg.Callback.AwaitTimeout)
	}
	if cfg.Callback.PollInterval != 100*time.Millisecond {
		t.Errorf("Callback.PollInterval = %v, want 100ms", cfg.Callback.PollInterval)
	}
	if cfg.Callback.TokenTTL != 5*time.Minute {
		t.Errorf("Callback.TokenTTL = %v, want 5m", cfg.Callback.TokenTTL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("REPLGATE_TEST_KEY", "secret-from-env")

	configPath := writeConfig(t, `
security:
  mode: "key_required"
  api_keys:
    - "${REPLGATE_TEST_KEY}"

database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Security.APIKeys) != 1 || cfg.Security.APIKeys[0] != "secret-from-env" {
		t.Errorf("Security.APIKeys = %v, want [secret-from-env]", cfg.Security.APIKeys)
	}
}

func TestLoad_PortEnvOverride(t *testing.T) {
	t.Setenv(PortEnvVar, "7777")

	configPath := writeConfig(t, `
port: 9090

database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 7777 {
		t.Errorf("Port = %d, want env override 7777", cfg.Port)
	}
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	t.Setenv(PortEnvVar, "not-a-port")

	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() with invalid port env succeeded, want error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() with missing file succeeded, want error")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v, want reading config file", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "security: [unclosed")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() with invalid YAML succeeded, want error")
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "key mode without keys",
			content: `
security:
  mode: "key_required"
database:
  path: "./test.db"
`,
			wantErr: "api_keys",
		},
		{
			name: "allowlist mode without ips",
			content: `
security:
  mode: "key_and_allowlist"
  api_keys: ["k"]
database:
  path: "./test.db"
`,
			wantErr: "allowed_ips",
		},
		{
			name: "unknown mode",
			content: `
security:
  mode: "sometimes"
database:
  path: "./test.db"
`,
			wantErr: "security.mode",
		},
		{
			name: "missing database path",
			content: `
security:
  mode: "open"
`,
			wantErr: "database.path",
		},
		{
			name: "port out of range",
			content: `
port: 99999
database:
  path: "./test.db"
`,
			wantErr: "out of range",
		},
		{
			name: "tailscale without hostname",
			content: `
database:
  path: "./test.db"
tailscale:
  enabled: true
`,
			wantErr: "tailscale.hostname",
		},
		{
			name: "bad await duration",
			content: `
database:
  path: "./test.db"
callback:
  await_timeout: "soonish"
`,
			wantErr: "await_timeout",
		},
		{
			name: "bad poll duration",
			content: `
database:
  path: "./test.db"
callback:
  poll_interval: "-10ms"
`,
			wantErr: "poll_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
