// ABOUTME: HTTP access gate enforcing the configured security mode
// ABOUTME: Handles API key checks, IP policy, and generic denial responses

package security

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/2389/replgate/internal/config"
)

// EventRecorder persists rejected requests for auditing. Implemented by the
// audit store.
type EventRecorder interface {
	RecordAuthEvent(ctx context.Context, remote, reason string) error
}

// Denial describes why a request was rejected. Message is the generic
// client-facing category; Reason carries the detail and stays server-side.
type Denial struct {
	Status  int
	Message string
	Reason  string
}

// Gate enforces the access policy in front of protected handlers.
type Gate struct {
	security   config.SecurityConfig
	trustProxy bool
	serverName string
	version    string
	recorder   EventRecorder
	logger     *slog.Logger
}

// New creates a gate from the loaded configuration. recorder may be nil.
func New(cfg *config.Config, version string, recorder EventRecorder, logger *slog.Logger) *Gate {
	return &Gate{
		security:   cfg.Security,
		trustProxy: cfg.Server.TrustProxyHeader,
		serverName: cfg.Server.Name,
		version:    version,
		recorder:   recorder,
		logger:     logger.With("component", "security"),
	}
}

// Mode returns the configured security mode.
func (g *Gate) Mode() config.Mode {
	return g.security.Mode
}

// Check evaluates the request against the configured policy. A nil result
// means the request is admitted.
func (g *Gate) Check(r *http.Request) *Denial {
	switch g.security.Mode {
	case config.ModeOpen:
		if g.security.AllowRemote {
			return nil
		}
		ip := g.clientIP(r)
		if !isLoopback(ip) {
			return &Denial{
				Status:  http.StatusForbidden,
				Message: "access denied",
				Reason:  fmt.Sprintf("non-loopback client %s in open mode", ip),
			}
		}
		return nil

	case config.ModeKeyRequired, config.ModeKeyAndAllowlist:
		key, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			return &Denial{
				Status:  http.StatusUnauthorized,
				Message: "authentication required",
				Reason:  errMsg,
			}
		}
		if !g.keyMatches(key) {
			return &Denial{
				Status:  http.StatusForbidden,
				Message: "invalid API key",
				Reason:  "api key not recognized",
			}
		}
		if g.security.Mode == config.ModeKeyAndAllowlist {
			ip := g.clientIP(r)
			if !g.ipAllowed(ip) {
				return &Denial{
					Status:  http.StatusForbidden,
					Message: "access denied",
					Reason:  fmt.Sprintf("client %s not in allowlist", ip),
				}
			}
		}
		return nil

	default:
		// Unknown modes fail closed; config validation should prevent this.
		return &Denial{
			Status:  http.StatusForbidden,
			Message: "access denied",
			Reason:  fmt.Sprintf("unknown security mode %q", g.security.Mode),
		}
	}
}

// Deny writes the generic denial response and records the event. The detailed
// reason goes to the log only.
func (g *Gate) Deny(w http.ResponseWriter, r *http.Request, d *Denial) {
	g.logger.Warn("request denied",
		"remote", r.RemoteAddr,
		"path", r.URL.Path,
		"status", d.Status,
		"reason", d.Reason)

	if g.recorder != nil {
		// Detached context: the denial is recorded even if the client is gone.
		if err := g.recorder.RecordAuthEvent(context.Background(), r.RemoteAddr, d.Reason); err != nil {
			g.logger.Warn("failed to record auth event", "error", err)
		}
	}

	http.Error(w, `{"error":"`+d.Message+`"}`, d.Status)
}

// Wrap admits requests per the security mode before passing them on.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := g.Check(r); d != nil {
			g.Deny(w, r, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keyMatches compares the presented key against every configured key in
// constant time, without early exit.
func (g *Gate) keyMatches(key string) bool {
	match := false
	for _, k := range g.security.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			match = true
		}
	}
	return match
}

func (g *Gate) ipAllowed(ip string) bool {
	for _, allowed := range g.security.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// clientIP resolves the caller address, honoring X-Forwarded-For only when
// a trusted proxy fronts the server.
func (g *Gate) clientIP(r *http.Request) string {
	if g.trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback()
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
