package transport

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/conikeec/mcpr/auth"
	"github.com/conikeec/mcpr/transport/resume"
)

// ConfigError reports invalid or incomplete transport parameters. It is
// raised at construction/validation time, never at first use.
type ConfigError struct {
	Kind   Kind
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transport config (%s): %s", e.Kind, e.Reason)
}

// Config aggregates the per-substrate parameter sections. Only the sections
// for substrates actually referenced by a binding need to be present.
type Config struct {
	Pipe   *PipeConfig
	Stream *StreamConfig
	Socket *SocketConfig
}

// Validate checks the section for the given kind. Missing sections and
// incomplete parameters both fail with a *ConfigError.
func (c Config) Validate(kind Kind) error {
	switch kind {
	case KindPipe:
		if c.Pipe == nil {
			return &ConfigError{Kind: kind, Reason: "pipe parameters missing"}
		}
		return c.Pipe.Validate()
	case KindStream:
		if c.Stream == nil {
			return &ConfigError{Kind: kind, Reason: "stream parameters missing"}
		}
		return c.Stream.Validate()
	case KindSocket:
		if c.Socket == nil {
			return &ConfigError{Kind: kind, Reason: "socket parameters missing"}
		}
		return c.Socket.Validate()
	default:
		return &ConfigError{Kind: kind, Reason: "unknown transport kind"}
	}
}

// PipeConfig describes a subordinate process reached over stdin/stdout.
type PipeConfig struct {
	// Command is the executable to spawn.
	Command string
	// Args are passed to the command verbatim.
	Args []string
	// Env entries (KEY=VALUE) appended to the inherited environment.
	Env []string
	// GraceTimeout bounds how long Close waits for the process to exit
	// after stdin is closed before it is forcibly killed. Default 5s.
	GraceTimeout time.Duration
	// Logger receives the subordinate process's stderr lines and transport
	// events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *PipeConfig) Validate() error {
	if c.Command == "" {
		return &ConfigError{Kind: KindPipe, Reason: "command is required"}
	}
	return nil
}

// StreamConfig describes the event-stream substrate: a long-lived SSE GET
// for the inbound direction and HTTP POSTs for the outbound direction.
type StreamConfig struct {
	// EventsURL is the SSE endpoint producing server-to-client events.
	EventsURL string
	// RequestURL receives client-to-server messages via POST.
	RequestURL string
	// Markers persists the last-seen event marker so a re-opened stream can
	// resume where it dropped. Optional; without it every open starts fresh.
	Markers resume.MarkerStore
	// Tokens supplies a bearer credential attached before each open and on
	// every outbound request. Optional.
	Tokens auth.TokenProvider
	// OpenTimeout bounds the initial GET handshake. Default 10s.
	OpenTimeout time.Duration
	// Logger for transport events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *StreamConfig) Validate() error {
	if c.EventsURL == "" {
		return &ConfigError{Kind: KindStream, Reason: "events URL is required"}
	}
	if c.RequestURL == "" {
		return &ConfigError{Kind: KindStream, Reason: "request URL is required"}
	}
	for name, raw := range map[string]string{"events": c.EventsURL, "request": c.RequestURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return &ConfigError{Kind: KindStream, Reason: fmt.Sprintf("%s URL must be absolute http(s), got %q", name, raw)}
		}
	}
	return nil
}

// SocketConfig describes the bidirectional WebSocket substrate.
type SocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// HeartbeatInterval is how often a liveness ping is sent. Default 15s.
	HeartbeatInterval time.Duration
	// HeartbeatDeadline is how long the peer has to answer before the
	// transport is declared stalled. Default 2x the interval.
	HeartbeatDeadline time.Duration
	// HandshakeTimeout bounds the dial. Default 10s.
	HandshakeTimeout time.Duration
	// Tokens supplies a bearer credential attached before each open.
	// Optional.
	Tokens auth.TokenProvider
	// Logger for transport events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *SocketConfig) Validate() error {
	if c.URL == "" {
		return &ConfigError{Kind: KindSocket, Reason: "URL is required"}
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return &ConfigError{Kind: KindSocket, Reason: fmt.Sprintf("URL must be ws(s), got %q", c.URL)}
	}
	if u.Port() == "" && u.Host == "" {
		return &ConfigError{Kind: KindSocket, Reason: "URL must name a host"}
	}
	if c.HeartbeatDeadline != 0 && c.HeartbeatInterval != 0 && c.HeartbeatDeadline <= c.HeartbeatInterval {
		return &ConfigError{Kind: KindSocket, Reason: "heartbeat deadline must exceed the interval"}
	}
	return nil
}
