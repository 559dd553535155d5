package mcpr

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/conikeec/mcpr/connection"
	"github.com/conikeec/mcpr/internal/logctx"
	"github.com/conikeec/mcpr/router"
)

// InboundMessage re-exports the connection-level unsolicited message type.
type InboundMessage = connection.InboundMessage

// InboundSink receives unsolicited inbound messages from any of the
// dispatcher's connections.
type InboundSink func(ctx context.Context, msg *InboundMessage)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the logger used across the dispatcher's connections.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = slog.New(logctx.Handler{Handler: l.Handler()})
			d.routerOpts = append(d.routerOpts, router.WithLogger(l))
		}
	}
}

// Dispatcher routes raw method calls to the connection bound to their
// capability and correlates the replies. One Dispatcher owns one routing
// table and all the connections behind it.
type Dispatcher struct {
	router     *router.Router
	log        *slog.Logger
	routerOpts []router.Option
}

// New builds the routing table from cfg, opens every bound transport, and
// returns a ready dispatcher. Configuration problems fail before anything is
// dialed; open failures respect cfg.Reconnect before giving up.
func New(ctx context.Context, cfg router.Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		log: slog.New(logctx.Handler{Handler: slog.Default().Handler()}),
	}
	for _, opt := range opts {
		opt(d)
	}

	r, err := router.New(cfg, d.routerOpts...)
	if err != nil {
		return nil, err
	}
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	d.router = r
	return d, nil
}

// Call sends a request on the connection serving capability and blocks for
// the correlated reply. A non-positive timeout uses the connection default.
// Peer-reported failures surface as *connection.RPCError.
func (d *Dispatcher) Call(ctx context.Context, capability router.Capability, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	ctx = logctx.WithCapability(ctx, string(capability))
	return d.router.Resolve(capability).Call(ctx, method, params, timeout)
}

// Notify sends a fire-and-forget notification on the connection serving
// capability.
func (d *Dispatcher) Notify(ctx context.Context, capability router.Capability, method string, params any) error {
	ctx = logctx.WithCapability(ctx, string(capability))
	return d.router.Resolve(capability).Notify(ctx, method, params)
}

// SetInboundSink registers sink for unsolicited messages on every
// connection. Pass nil to drop them again.
func (d *Dispatcher) SetInboundSink(sink InboundSink) {
	for _, conn := range d.router.Connections() {
		if sink == nil {
			conn.SetInboundHandler(nil)
			continue
		}
		conn.SetInboundHandler(func(ctx context.Context, msg *connection.InboundMessage) {
			sink(ctx, msg)
		})
	}
}

// State reports the lifecycle state of the connection serving capability.
func (d *Dispatcher) State(capability router.Capability) connection.State {
	return d.router.Resolve(capability).State()
}

// Shutdown closes every connection the dispatcher owns.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.router.Shutdown(ctx)
}
