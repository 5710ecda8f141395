// ABOUTME: Session lifecycle state machine for the protocol handshake
// ABOUTME: Guards initialize/close transitions and snapshots session state

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a session lifecycle phase.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	StateClosed        State = "closed"
)

var (
	// ErrMissingParameter indicates a required initialize parameter was absent.
	ErrMissingParameter = errors.New("missing required parameter")
	// ErrUnsupportedVersion indicates the requested protocol version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrAlreadyInitialized indicates initialize was attempted after a successful handshake.
	ErrAlreadyInitialized = errors.New("session already initialized")
	// ErrClosed indicates an operation on a closed session.
	ErrClosed = errors.New("session closed")
)

// supportedVersions is the fixed set accepted during the handshake.
// Negotiation echoes back the requested version, never upgrades it.
var supportedVersions = []string{
	"2024-11-05",
	"2025-03-26",
	"2025-06-18",
}

// SupportedVersions returns the protocol versions accepted by initialize.
func SupportedVersions() []string {
	out := make([]string, len(supportedVersions))
	copy(out, supportedVersions)
	return out
}

// ClientInfo identifies the connected client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies this server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the client half of the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo     `json:"clientInfo,omitempty"`
}

// InitializeResult is the server half of the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// Info is a point-in-time snapshot for session/info.
type Info struct {
	ID              string      `json:"id"`
	State           State       `json:"state"`
	ProtocolVersion string      `json:"protocolVersion,omitempty"`
	ClientInfo      *ClientInfo `json:"clientInfo,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	InitializedAt   *time.Time  `json:"initializedAt,omitempty"`
	ClosedAt        *time.Time  `json:"closedAt,omitempty"`
}

// Session tracks the single protocol session owned by this server process.
// All transitions are mutex-guarded so at most one initialize ever succeeds.
type Session struct {
	mu sync.Mutex

	id              string
	state           State
	protocolVersion string
	clientCaps      map[string]any
	clientInfo      ClientInfo
	serverCaps      map[string]any
	serverInfo      ServerInfo
	createdAt       time.Time
	initializedAt   time.Time
	closedAt        time.Time

	logger *slog.Logger
}

// New creates an uninitialized session for this server process.
func New(serverName, serverVersion string, logger *slog.Logger) *Session {
	return &Session{
		id:    uuid.New().String(),
		state: StateUninitialized,
		serverCaps: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		serverInfo: ServerInfo{Name: serverName, Version: serverVersion},
		createdAt:  time.Now().UTC(),
		logger:     logger.With("component", "session"),
	}
}

// ID returns the generated session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize performs the handshake. It is allowed only from UNINITIALIZED;
// any failure reverts the state so the client may retry.
func (s *Session) Initialize(params InitializeParams) (*InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
		// proceed
	case StateClosed:
		return nil, fmt.Errorf("%w: cannot initialize", ErrClosed)
	default:
		return nil, fmt.Errorf("%w: state is %s", ErrAlreadyInitialized, s.state)
	}

	s.state = StateInitializing

	if params.ProtocolVersion == "" {
		s.state = StateUninitialized
		return nil, fmt.Errorf("%w: protocolVersion", ErrMissingParameter)
	}
	if !versionSupported(params.ProtocolVersion) {
		s.state = StateUninitialized
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedVersion, params.ProtocolVersion, strings.Join(supportedVersions, ", "))
	}

	s.protocolVersion = params.ProtocolVersion
	s.clientCaps = params.Capabilities
	s.clientInfo = params.ClientInfo
	s.initializedAt = time.Now().UTC()
	s.state = StateInitialized

	s.logger.Info("session initialized",
		"session_id", s.id,
		"protocol_version", s.protocolVersion,
		"client_name", s.clientInfo.Name,
		"client_version", s.clientInfo.Version)

	return &InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    s.serverCaps,
		ServerInfo:      s.serverInfo,
	}, nil
}

// NotifyInitialized records the client's initialized notification. It never
// changes state.
func (s *Session) NotifyInitialized() {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	s.logger.Info("client reported initialized", "session_id", s.id, "state", state)
}

// Close transitions the session to CLOSED. Closing an already-closed session
// is a no-op logged at warn level.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		s.logger.Warn("close on already-closed session", "session_id", s.id)
		return
	}

	s.state = StateClosed
	s.closedAt = time.Now().UTC()
	s.logger.Info("session closed", "session_id", s.id)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:              s.id,
		State:           s.state,
		ProtocolVersion: s.protocolVersion,
		CreatedAt:       s.createdAt,
	}
	if s.clientInfo != (ClientInfo{}) {
		ci := s.clientInfo
		info.ClientInfo = &ci
	}
	if !s.initializedAt.IsZero() {
		t := s.initializedAt
		info.InitializedAt = &t
	}
	if !s.closedAt.IsZero() {
		t := s.closedAt
		info.ClosedAt = &t
	}
	return info
}

func versionSupported(v string) bool {
	for _, sv := range supportedVersions {
		if sv == v {
			return true
		}
	}
	return false
}
