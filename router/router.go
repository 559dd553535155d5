// Package router maps request capabilities onto transports. Each capability
// class (tools, resources, prompts, auth) may be bound to its own substrate;
// anything unbound rides the default. Bindings are fixed at construction:
// there is no re-binding of a live router.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/conikeec/mcpr/connection"
	"github.com/conikeec/mcpr/internal/logctx"
	"github.com/conikeec/mcpr/transport"
)

// Capability classifies a request for transport selection.
type Capability string

const (
	CapabilityTool     Capability = "tool"
	CapabilityResource Capability = "resource"
	CapabilityPrompt   Capability = "prompt"
	CapabilityAuth     Capability = "auth"
)

// Config describes the routing table and the transport parameters behind it.
type Config struct {
	// Default is the transport kind used by capabilities with no explicit
	// binding. Required.
	Default transport.Kind
	// Capabilities binds individual capability classes to transport kinds.
	// May be empty, in which case everything uses Default.
	Capabilities map[Capability]transport.Kind
	// Transports carries the parameter section for every kind referenced
	// above.
	Transports transport.Config
	// Reconnect applies to every connection the router owns.
	Reconnect connection.ReconnectPolicy
}

// validKinds is the closed set a binding may name.
func validKind(k transport.Kind) bool {
	switch k {
	case transport.KindPipe, transport.KindStream, transport.KindSocket:
		return true
	}
	return false
}

// kinds returns the set of distinct transport kinds the config references.
func (c Config) kinds() []transport.Kind {
	seen := map[transport.Kind]bool{c.Default: true}
	out := []transport.Kind{c.Default}
	for _, k := range c.Capabilities {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger overrides the logger used by the router and its connections.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = slog.New(logctx.Handler{Handler: l.Handler()})
		}
	}
}

// Router owns one connection per distinct transport kind in its routing
// table. Capabilities bound to the same kind share a connection, so their
// calls also share that connection's correlation table.
type Router struct {
	log      *slog.Logger
	bindings map[Capability]transport.Kind
	fallback transport.Kind
	conns    map[transport.Kind]*connection.Manager

	mu      sync.Mutex
	started bool
}

// New validates cfg and builds the router with its connections constructed
// but not yet opened. Every configuration problem surfaces here as a
// *transport.ConfigError; nothing is dialed until Start.
func New(cfg Config, opts ...Option) (*Router, error) {
	if cfg.Default == "" {
		return nil, &transport.ConfigError{Kind: "", Reason: "default transport kind is required"}
	}
	if !validKind(cfg.Default) {
		return nil, &transport.ConfigError{Kind: cfg.Default, Reason: "unknown transport kind"}
	}
	for capability, k := range cfg.Capabilities {
		if !validKind(k) {
			return nil, &transport.ConfigError{Kind: k, Reason: fmt.Sprintf("unknown transport kind bound to capability %q", capability)}
		}
	}
	for _, k := range cfg.kinds() {
		if err := cfg.Transports.Validate(k); err != nil {
			return nil, err
		}
	}

	r := &Router{
		log:      slog.New(logctx.Handler{Handler: slog.Default().Handler()}),
		bindings: make(map[Capability]transport.Kind, len(cfg.Capabilities)),
		fallback: cfg.Default,
		conns:    make(map[transport.Kind]*connection.Manager),
	}
	for capability, k := range cfg.Capabilities {
		r.bindings[capability] = k
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, k := range cfg.kinds() {
		t, err := transport.New(k, cfg.Transports)
		if err != nil {
			return nil, err
		}
		r.conns[k] = connection.NewManager(t,
			connection.WithLogger(r.log),
			connection.WithReconnectPolicy(cfg.Reconnect),
		)
	}
	return r, nil
}

// Start opens every connection in the routing table. On any failure the
// already-opened connections are shut down again so Start is all-or-nothing.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("router already started")
	}
	r.started = true
	r.mu.Unlock()

	var opened []*connection.Manager
	for kind, conn := range r.conns {
		if err := conn.Start(ctx); err != nil {
			for _, open := range opened {
				_ = open.Shutdown(ctx)
			}
			return fmt.Errorf("starting %s connection: %w", kind, err)
		}
		r.log.Info("router.conn.up",
			slog.String("transport", string(kind)),
			slog.String("conn_id", conn.ID()),
		)
		opened = append(opened, conn)
	}
	return nil
}

// Resolve returns the connection serving the given capability, falling back
// to the default binding when the capability has no entry of its own.
func (r *Router) Resolve(capability Capability) *connection.Manager {
	kind, ok := r.bindings[capability]
	if !ok {
		kind = r.fallback
	}
	return r.conns[kind]
}

// Binding reports the transport kind a capability resolves to.
func (r *Router) Binding(capability Capability) transport.Kind {
	if kind, ok := r.bindings[capability]; ok {
		return kind
	}
	return r.fallback
}

// Connections returns the router's connections, one per distinct transport
// kind.
func (r *Router) Connections() []*connection.Manager {
	out := make([]*connection.Manager, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Shutdown closes every connection exactly once and returns the first error
// encountered.
func (r *Router) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, conn := range r.conns {
		if err := conn.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
