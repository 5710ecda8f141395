// Package config handles configuration loading for replgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from --config flag
//  2. Path from REPLGATE_CONFIG environment variable
//  3. ~/.config/replgate/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	security:
//	  api_keys:
//	    - "${REPLGATE_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	callback:
//	  await_timeout: "10s"
//	  poll_interval: "100ms"
//	  token_ttl: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Security:
//
//	security:
//	  mode: "key_required"      # open, key_required, key_and_allowlist
//	  api_keys:
//	    - "${REPLGATE_API_KEY}"
//	  allowed_ips:
//	    - "203.0.113.7"
//	  allow_remote: false       # open mode: permit non-loopback clients
//
// Server:
//
//	port: 8080                  # REPLGATE_PORT overrides
//	server:
//	  name: "replgate"
//	  host: "127.0.0.1"
//	  trust_proxy_header: false # honor X-Forwarded-For
//
// Callback broker:
//
//	callback:
//	  await_timeout: "10s"
//	  poll_interval: "100ms"
//	  token_ttl: "5m"
//	  host_endpoint: "http://127.0.0.1:8750/invoke"
//
// Database:
//
//	database:
//	  path: "/var/lib/replgate/replgate.db"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "replgate"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Security mode values and their required fields
//   - Port range
//   - Database path presence
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/replgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
