// Package transport provides the interchangeable substrates that carry
// encoded wire messages between a client and a long-lived server peer.
//
// Three substrates implement the same Transport contract:
//
//   - Pipe: a subordinate process reached over its stdin/stdout, with
//     newline-delimited frames.
//   - Stream: a long-lived server-to-client event stream (SSE) paired with
//     out-of-band HTTP POST requests for the client-to-server direction.
//   - Socket: a bidirectional message-framed WebSocket with ping/pong
//     liveness probing.
//
// A Transport only moves opaque framed payloads; encoding and decoding of
// the payloads is the codec's job, and connection lifecycle (reconnection,
// correlation, timeouts) is the connection manager's. Framing, meaning how
// one payload is delimited from the next, is the one substrate-specific concern
// owned here.
package transport
