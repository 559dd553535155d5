package connection

import (
	"sync"
	"time"

	"github.com/conikeec/mcpr/internal/jsonrpc"
)

// pendingCall is one awaiting request/response pair. Channels are buffered
// so completion never blocks on a departed caller.
type pendingCall struct {
	respCh   chan *jsonrpc.Response
	errCh    chan error
	deadline time.Time
}

// callTable is the correlation table: request id -> pending call. Entries
// are created when a request is sent and removed exactly once, whichever
// comes first of: matching response, deadline, cancellation, or connection
// failure.
type callTable struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newCallTable() *callTable {
	return &callTable{pending: make(map[string]*pendingCall)}
}

// register creates an entry. Duplicate keys are refused: ids come from an
// atomic counter, so a collision means an upstream bug.
func (t *callTable) register(key string, deadline time.Time) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[key]; exists {
		return nil, ErrDuplicateCallID
	}
	pc := &pendingCall{
		respCh:   make(chan *jsonrpc.Response, 1),
		errCh:    make(chan error, 1),
		deadline: deadline,
	}
	t.pending[key] = pc
	return pc, nil
}

// remove drops an entry without completing it. Used by the cancellation
// path, where the awaiting caller is already gone.
func (t *callTable) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
}

// complete delivers a response to its awaiting caller. Returns false when no
// entry matches, in which case the message is unsolicited and belongs to the
// inbound sink.
func (t *callTable) complete(resp *jsonrpc.Response) bool {
	if resp == nil || resp.ID.IsNil() {
		return false
	}
	key := resp.ID.String()
	t.mu.Lock()
	pc, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()
	if ok {
		pc.respCh <- resp
	}
	return ok
}

// failAll completes every pending call with err and empties the table.
func (t *callTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, pc := range t.pending {
		delete(t.pending, key)
		pc.errCh <- err
	}
}

// expire fails every call whose deadline has elapsed and returns how many it
// failed. Runs from the background sweep independent of connection state.
func (t *callTable) expire(now time.Time, err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, pc := range t.pending {
		if !pc.deadline.IsZero() && now.After(pc.deadline) {
			delete(t.pending, key)
			pc.errCh <- err
			n++
		}
	}
	return n
}

func (t *callTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
