// Package mcpr is a transport-agnostic request/response message layer. It
// exchanges JSON-RPC 2.0 envelopes over subordinate-process pipes,
// server-sent event streams, or WebSockets, with per-capability transport
// routing, connection lifecycle supervision, and call correlation handled
// below the API surface.
//
// The Dispatcher is the low-level surface: raw method calls routed by
// capability. Client layers the protocol's session operations (initialize,
// tool calls, resource and prompt access, shutdown) on top of it.
package mcpr
