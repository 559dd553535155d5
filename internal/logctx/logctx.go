package logctx

import (
	"context"
	"log/slog"
)

// Handler enriches records with connection and RPC attributes carried in the
// context. Wrap any slog.Handler with it to get structured correlation for
// free on every log site that passes a context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("id", cd.ConnectionID),
			slog.String("transport", cd.Transport),
			slog.String("state", cd.State),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if cap, ok := ctx.Value(capabilityKey{}).(string); ok {
		r.AddAttrs(slog.String("capability", cap))
	}

	return h.Handler.Handle(ctx, r)
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type connDataKey struct{}

type ConnData struct {
	ConnectionID string
	Transport    string
	State        string
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type capabilityKey struct{}

func WithCapability(ctx context.Context, capability string) context.Context {
	return context.WithValue(ctx, capabilityKey{}, capability)
}
