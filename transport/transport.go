package transport

import (
	"context"
	"errors"
)

// Kind identifies a transport substrate. The set is closed: only these
// substrates exist, so selection happens once at connection construction
// rather than through open-ended plugin registration.
type Kind string

const (
	KindPipe   Kind = "pipe"
	KindStream Kind = "stream"
	KindSocket Kind = "socket"
)

var (
	// ErrClosed indicates an operation on a transport after Close.
	ErrClosed = errors.New("transport closed")
	// ErrNotConnected indicates Send or Receive before a successful Open.
	ErrNotConnected = errors.New("transport not connected")
	// ErrPeerGone indicates the remote side of the substrate went away: the
	// subordinate process exited, the stream ended, or the socket dropped.
	ErrPeerGone = errors.New("peer gone")
	// ErrStalled indicates the peer stopped answering liveness probes within
	// the configured deadline.
	ErrStalled = errors.New("transport stalled")
)

// Transport is the capability interface every substrate implements.
//
// Receive blocks until one full framed payload is available or the transport
// fails; after a transient failure that does not close the underlying
// channel, the next Receive may succeed. The connection manager is the sole
// caller of Receive; Send may be called concurrently and implementations
// serialize frame writes internally.
type Transport interface {
	// Kind reports the substrate.
	Kind() Kind
	// Open establishes the substrate. Calling Open on an open transport is
	// an error; Open after Close re-establishes where the substrate allows
	// it (all three do, which is what reconnection relies on).
	Open(ctx context.Context) error
	// Send transmits one framed payload.
	Send(ctx context.Context, frame []byte) error
	// Receive returns the next framed payload.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the substrate down and releases its resources.
	Close() error
}

// Prober is implemented by transports that can cheaply confirm peer
// liveness without consuming an inbound frame. The connection manager uses
// it to decide whether a degraded connection has recovered before giving up
// and reconnecting.
type Prober interface {
	Probe(ctx context.Context) error
}

// New constructs the transport named by kind from the matching section of
// cfg. The section must already have passed validation; direct callers that
// skipped Validate still get a *ConfigError for a missing section.
func New(kind Kind, cfg Config) (Transport, error) {
	switch kind {
	case KindPipe:
		if cfg.Pipe == nil {
			return nil, &ConfigError{Kind: kind, Reason: "pipe parameters missing"}
		}
		return NewPipe(*cfg.Pipe), nil
	case KindStream:
		if cfg.Stream == nil {
			return nil, &ConfigError{Kind: kind, Reason: "stream parameters missing"}
		}
		return NewStream(*cfg.Stream), nil
	case KindSocket:
		if cfg.Socket == nil {
			return nil, &ConfigError{Kind: kind, Reason: "socket parameters missing"}
		}
		return NewSocket(*cfg.Socket), nil
	default:
		return nil, &ConfigError{Kind: kind, Reason: "unknown transport kind"}
	}
}
