// ABOUTME: Security descriptor and server configuration loading for replgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode controls how the security gate authenticates inbound requests.
type Mode string

const (
	// ModeOpen performs no key check; only the IP policy applies.
	ModeOpen Mode = "open"
	// ModeKeyRequired requires a bearer API key on every request.
	ModeKeyRequired Mode = "key_required"
	// ModeKeyAndAllowlist requires a bearer API key and an allowlisted caller IP.
	ModeKeyAndAllowlist Mode = "key_and_allowlist"
)

// PortEnvVar overrides the descriptor's port when set.
const PortEnvVar = "REPLGATE_PORT"

// Config represents the complete replgate configuration. The security,
// port, and created_at fields form the persisted security descriptor;
// the remaining sections configure the surrounding server.
type Config struct {
	Security  SecurityConfig  `yaml:"security"`
	Port      int             `yaml:"port"`
	CreatedAt string          `yaml:"created_at"`
	Server    ServerConfig    `yaml:"server"`
	Callback  CallbackConfig  `yaml:"callback"`
	Database  DatabaseConfig  `yaml:"database"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SecurityConfig holds the authentication mode and its inputs.
type SecurityConfig struct {
	Mode       Mode     `yaml:"mode"`
	APIKeys    []string `yaml:"api_keys"`
	AllowedIPs []string `yaml:"allowed_ips"`

	// AllowRemote relaxes the loopback-only policy of open mode.
	// Key-based modes ignore it.
	AllowRemote bool `yaml:"allow_remote"`
}

// ServerConfig holds server identity and transport-level settings.
type ServerConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`

	// TrustProxyHeader enables X-Forwarded-For resolution for the IP
	// allowlist. Leave off unless a trusted reverse proxy fronts the server.
	TrustProxyHeader bool `yaml:"trust_proxy_header"`
}

// CallbackConfig holds callback broker timing configuration.
type CallbackConfig struct {
	AwaitTimeout time.Duration `yaml:"-"`
	PollInterval time.Duration `yaml:"-"`
	TokenTTL     time.Duration `yaml:"-"`

	// HostEndpoint is the GUI host URL that receives remote invocations.
	HostEndpoint string `yaml:"host_endpoint"`

	// Raw string values for YAML unmarshaling
	AwaitTimeoutRaw string `yaml:"await_timeout"`
	PollIntervalRaw string `yaml:"poll_interval"`
	TokenTTLRaw     string `yaml:"token_ttl"`
}

// DatabaseConfig holds audit database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// REPLGATE_PORT, when set, takes precedence over the file's port.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Environment port override wins over the descriptor
	if envPort := os.Getenv(PortEnvVar); envPort != "" {
		port, err := strconv.Atoi(envPort)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", PortEnvVar, envPort, err)
		}
		cfg.Port = port
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the descriptor may omit.
func (c *Config) applyDefaults() {
	if c.Security.Mode == "" {
		c.Security.Mode = ModeOpen
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "replgate"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Callback.AwaitTimeoutRaw == "" {
		c.Callback.AwaitTimeoutRaw = "10s"
	}
	if c.Callback.PollIntervalRaw == "" {
		c.Callback.PollIntervalRaw = "100ms"
	}
	if c.Callback.TokenTTLRaw == "" {
		c.Callback.TokenTTLRaw = "5m"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Security.Mode {
	case ModeOpen:
	case ModeKeyRequired, ModeKeyAndAllowlist:
		if len(c.Security.APIKeys) == 0 {
			return fmt.Errorf("security.api_keys is required when mode is %q", c.Security.Mode)
		}
		if c.Security.Mode == ModeKeyAndAllowlist && len(c.Security.AllowedIPs) == 0 {
			return fmt.Errorf("security.allowed_ips is required when mode is %q", c.Security.Mode)
		}
	default:
		return fmt.Errorf("security.mode %q is not one of open, key_required, key_and_allowlist", c.Security.Mode)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Callback.PollInterval <= 0 {
		return fmt.Errorf("callback.poll_interval must be positive")
	}
	if c.Callback.AwaitTimeout <= 0 {
		return fmt.Errorf("callback.await_timeout must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Callback.AwaitTimeoutRaw != "" {
		cfg.Callback.AwaitTimeout, err = time.ParseDuration(cfg.Callback.AwaitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing await_timeout %q: %w", cfg.Callback.AwaitTimeoutRaw, err)
		}
	}

	if cfg.Callback.PollIntervalRaw != "" {
		cfg.Callback.PollInterval, err = time.ParseDuration(cfg.Callback.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Callback.PollIntervalRaw, err)
		}
	}

	if cfg.Callback.TokenTTLRaw != "" {
		cfg.Callback.TokenTTL, err = time.ParseDuration(cfg.Callback.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Callback.TokenTTLRaw, err)
		}
	}

	return nil
}

// ListenAddr returns the host:port address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Port)
}
