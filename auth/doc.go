// Package auth provides the pluggable credential gate invoked by the
// network transports before each open. It focuses on supplying a bearer
// token (typically a JWT minted by an external authorization server) to be
// attached at the transport level; authorization decisions themselves belong
// to the peer and are out of scope here.
//
// The public surface intentionally stays small: a TokenProvider returns the
// credential to present, or an error when no usable credential exists. The
// transports are responsible for attaching the token to their substrate
// (Authorization header on the event-stream and socket handshakes); the pipe
// transport has no credential surface and ignores providers.
//
// Three providers are included:
//
//   - Static wraps a fixed token.
//   - NewJWTProvider wraps a JWT and refuses to hand it out once its exp
//     claim has passed, so a dead credential fails the open instead of the
//     peer's first rejection.
//   - NewFileProvider reads the token from a file and watches it with
//     fsnotify, picking up rotations (e.g. projected service account
//     tokens) without a restart.
package auth
