package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed fails pending and future calls after an explicit
	// shutdown.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectionReset fails calls that were pending when the transport
	// dropped. They are never silently retried.
	ErrConnectionReset = errors.New("connection reset")
	// ErrCallTimeout fails a call whose deadline elapsed before a reply
	// arrived. The connection itself is unaffected.
	ErrCallTimeout = errors.New("call timed out")
	// ErrReconnectExhausted marks a connection that ran out of reconnection
	// attempts. Terminal.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrNotReady rejects calls submitted while the connection is not in a
	// state that can transmit (initializing, reconnecting).
	ErrNotReady = errors.New("connection not ready")
	// ErrDuplicateCallID guards the correlation invariant: no two
	// concurrently pending calls on one connection share an id.
	ErrDuplicateCallID = errors.New("duplicate call id")
)

// RPCError is a peer-reported error payload completing a call. It mirrors
// the wire error object {code, message, data?}.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
