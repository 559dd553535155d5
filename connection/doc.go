// Package connection owns the lifecycle of one transport instance: the
// state machine that takes it from Initializing through Active, Degraded,
// Reconnecting, and finally Closed or Failed; the correlation table matching
// in-flight requests to their responses; and the single inbound-reading path
// that is the sole reader of the transport.
//
// A Manager never retries a request across a reconnect: request semantics
// may not be idempotent, so every call pending at the moment of a drop is
// failed with ErrConnectionReset and the decision to resubmit belongs to the
// caller.
package connection
