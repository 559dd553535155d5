// Package resume persists the last-seen event marker of an event-stream
// transport so a re-opened stream can pick up where the dropped one left
// off instead of replaying or losing events.
package resume

import "context"

// MarkerStore loads and stores the last-seen event marker. Implementations
// must be safe for concurrent use; the stream transport stores from its
// receive path while an opener may load concurrently during reconnection.
type MarkerStore interface {
	// Load returns the stored marker, or "" when none has been stored.
	Load(ctx context.Context) (string, error)
	// Store durably records the marker.
	Store(ctx context.Context, marker string) error
}
