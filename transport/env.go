package transport

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// envConfig mirrors the Config sections as flat environment variables so
// deployments can hand the core a resolved configuration without a file
// format. Only sections with their primary parameter set are materialized.
type envConfig struct {
	PipeCommand string        `env:"MCPR_PIPE_COMMAND"`
	PipeArgs    string        `env:"MCPR_PIPE_ARGS"`
	PipeGrace   time.Duration `env:"MCPR_PIPE_GRACE,default=5s"`

	StreamEventsURL  string        `env:"MCPR_STREAM_EVENTS_URL"`
	StreamRequestURL string        `env:"MCPR_STREAM_REQUEST_URL"`
	StreamOpenWait   time.Duration `env:"MCPR_STREAM_OPEN_TIMEOUT,default=10s"`

	SocketURL      string        `env:"MCPR_SOCKET_URL"`
	SocketPing     time.Duration `env:"MCPR_SOCKET_HEARTBEAT_INTERVAL,default=15s"`
	SocketDeadline time.Duration `env:"MCPR_SOCKET_HEARTBEAT_DEADLINE,default=30s"`
}

// ConfigFromEnv populates transport parameter sections from the process
// environment. A section is present only when its primary parameter (pipe
// command, stream events URL, socket URL) is set.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := envdecode.Decode(&ec); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, err
	}

	var cfg Config
	if ec.PipeCommand != "" {
		pc := &PipeConfig{Command: ec.PipeCommand, GraceTimeout: ec.PipeGrace}
		if ec.PipeArgs != "" {
			pc.Args = strings.Fields(ec.PipeArgs)
		}
		cfg.Pipe = pc
	}
	if ec.StreamEventsURL != "" {
		cfg.Stream = &StreamConfig{
			EventsURL:   ec.StreamEventsURL,
			RequestURL:  ec.StreamRequestURL,
			OpenTimeout: ec.StreamOpenWait,
		}
	}
	if ec.SocketURL != "" {
		cfg.Socket = &SocketConfig{
			URL:               ec.SocketURL,
			HeartbeatInterval: ec.SocketPing,
			HeartbeatDeadline: ec.SocketDeadline,
		}
	}
	return cfg, nil
}
