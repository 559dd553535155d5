package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conikeec/mcpr/internal/backoff"
	"github.com/conikeec/mcpr/internal/jsonrpc"
	"github.com/conikeec/mcpr/internal/logctx"
	"github.com/conikeec/mcpr/transport"
	"github.com/google/uuid"
)

const (
	defaultCallTimeout   = 30 * time.Second
	defaultSweepInterval = 100 * time.Millisecond
)

// ReconnectPolicy bounds the recovery behavior of a connection.
type ReconnectPolicy struct {
	// MaxAttempts is the number of re-opens tried per outage before the
	// connection fails terminally. Default 5.
	MaxAttempts int
	// BaseDelay is the backoff before the first re-open; it doubles per
	// attempt. Default 250ms.
	BaseDelay time.Duration
	// MaxDelay caps the grown backoff. Default 10s.
	MaxDelay time.Duration
	// ProbeBudget is the number of consecutive confirmation probes tried in
	// Degraded before giving the transport up. Default 3; meaningful only
	// for transports implementing transport.Prober.
	ProbeBudget int
	// ProbeDelay is the pause between confirmation probes. Default 100ms.
	ProbeDelay time.Duration
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 250 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.ProbeBudget <= 0 {
		p.ProbeBudget = 3
	}
	if p.ProbeDelay <= 0 {
		p.ProbeDelay = 100 * time.Millisecond
	}
	return p
}

// InboundMessage is an inbound wire message with no matching pending call:
// all notifications, plus responses whose id matches nothing (late replies
// to abandoned calls, peer bugs). The owning capability layer interprets it.
type InboundMessage struct {
	// Method is set for notifications (and stray requests from the peer).
	Method string
	// Params accompanies Method.
	Params json.RawMessage
	// ID is the correlation id in its canonical string form, empty for
	// notifications.
	ID string
	// Result is set for unmatched success responses.
	Result json.RawMessage
	// Err is set for unmatched error responses.
	Err *RPCError
}

// InboundHandler receives unsolicited inbound messages. It is invoked from
// the connection's read path and must not block for long.
type InboundHandler func(ctx context.Context, msg *InboundMessage)

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = slog.New(logctx.Handler{Handler: l.Handler()})
		}
	}
}

// WithReconnectPolicy overrides the reconnection policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

// WithCallTimeout sets the deadline applied to calls that do not carry their
// own timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithSweepInterval tunes how often the deadline sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepEvery = d
		}
	}
}

// WithStateCallback registers a callback invoked on every state transition.
// The callback runs on the manager's control path; keep it cheap.
func WithStateCallback(fn func(State)) Option {
	return func(m *Manager) { m.onState = fn }
}

// Manager owns exactly one transport instance and drives its lifecycle. All
// reads from the transport happen on the manager's single reading goroutine;
// sends from any number of callers are serialized through the send gate.
type Manager struct {
	id          string
	t           transport.Transport
	log         *slog.Logger
	policy      ReconnectPolicy
	delays      backoff.Policy
	callTimeout time.Duration
	sweepEvery  time.Duration
	onState     func(State)

	calls  *callTable
	nextID atomic.Uint64

	mu        sync.Mutex
	stateCond *sync.Cond // broadcast on every state change
	state     State
	started   bool
	termErr   error // what new calls fail with once terminal
	handler   InboundHandler
	runTomb   context.CancelFunc
	runCtx    context.Context
	sendGate  sync.Mutex
}

// NewManager builds a Manager around a transport. Nothing is opened until
// Start.
func NewManager(t transport.Transport, opts ...Option) *Manager {
	m := &Manager{
		id:          uuid.NewString(),
		t:           t,
		log:         slog.New(logctx.Handler{Handler: slog.Default().Handler()}),
		policy:      ReconnectPolicy{}.withDefaults(),
		callTimeout: defaultCallTimeout,
		sweepEvery:  defaultSweepInterval,
		state:       StateInitializing,
		calls:       newCallTable(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stateCond = sync.NewCond(&m.mu)
	m.delays = backoff.New(m.policy.BaseDelay, m.policy.MaxDelay)
	return m
}

// ID returns the connection's unique identifier.
func (m *Manager) ID() string { return m.id }

// TransportKind reports the substrate this connection rides on.
func (m *Manager) TransportKind() transport.Kind { return m.t.Kind() }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetInboundHandler registers the sink for unsolicited inbound messages.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *Manager) inboundHandler() InboundHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// connCtx decorates ctx with this connection's logging attributes.
func (m *Manager) connCtx(ctx context.Context) context.Context {
	return logctx.WithConnData(ctx, &logctx.ConnData{
		ConnectionID: m.id,
		Transport:    string(m.t.Kind()),
		State:        m.State().String(),
	})
}

// setState transitions the state machine, logging the edge and notifying the
// state callback. Illegal edges are refused.
func (m *Manager) setState(to State) bool {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return true
	}
	if !canTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.stateCond.Broadcast()
	cb := m.onState
	m.mu.Unlock()

	m.log.Info("conn.state",
		slog.String("conn_id", m.id),
		slog.String("transport", string(m.t.Kind())),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if cb != nil {
		cb(to)
	}
	return true
}

// Start opens the transport and brings the connection to Active, applying
// the reconnect policy to initialization failures. The supplied context
// bounds the connection's whole lifetime: canceling it tears the connection
// down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("connection already started")
	}
	m.started = true
	m.runCtx, m.runTomb = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.openWithRetry(m.runCtx, 0); err != nil {
		return err
	}

	go m.sweepLoop()
	go m.readLoop()
	return nil
}

// openWithRetry drives open attempts under the backoff schedule, starting
// the count at firstAttempt so the initial open and subsequent reconnects
// share one budget semantics per outage.
func (m *Manager) openWithRetry(ctx context.Context, firstAttempt int) error {
	for attempt := firstAttempt; ; attempt++ {
		err := m.t.Open(ctx)
		if err == nil {
			if !m.setState(StateActive) {
				// Shutdown raced the open.
				_ = m.t.Close()
				return ErrConnectionClosed
			}
			return nil
		}

		m.log.Warn("conn.open.fail",
			slog.String("conn_id", m.id),
			slog.Int("attempt", attempt+1),
			slog.String("err", err.Error()),
		)
		if attempt+1 >= m.policy.MaxAttempts {
			m.failTerminally(fmt.Errorf("%w: %w", ErrReconnectExhausted, err))
			return fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
		}
		if !m.setState(StateReconnecting) {
			return ErrConnectionClosed
		}

		delay := m.delays.Delay(attempt)
		m.log.Info("reconnect.wait",
			slog.String("conn_id", m.id),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// readLoop is the sole reader of the transport. It feeds decoded messages to
// the correlation table or the inbound sink and is the primary fault
// detector: any receive failure enters the degraded/reconnect control path.
func (m *Manager) readLoop() {
	ctx := m.runCtx
	for {
		frame, err := m.t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch m.State() {
			case StateActive:
				if !m.handleFault(ctx, err, true) {
					return
				}
				continue
			case StateDegraded:
				// A send-path fault owns recovery. If the probes bring the
				// connection back this reader resumes on the same
				// transport; reconnect spawns a fresh one.
				if m.awaitFaultOutcome() {
					continue
				}
				return
			default:
				// Reconnect, shutdown, or terminal failure owns the
				// transport; this reader just steps aside.
				return
			}
		}
		m.dispatch(ctx, frame)
	}
}

// dispatch decodes one frame and routes it. Decode failures drop the frame
// and keep the connection: a malformed message is the peer's bug, not a
// transport fault.
func (m *Manager) dispatch(ctx context.Context, frame []byte) {
	msg, err := jsonrpc.Decode(frame)
	if err != nil {
		m.log.WarnContext(m.connCtx(ctx), "rpc.decode.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(m.connCtx(ctx), &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   string(msg.Type()),
	})

	if resp := msg.AsResponse(); resp != nil {
		if m.calls.complete(resp) {
			return
		}
		m.log.DebugContext(ctx, "rpc.response.unmatched")
	}

	h := m.inboundHandler()
	if h == nil {
		m.log.DebugContext(ctx, "rpc.inbound.dropped")
		return
	}
	h(ctx, inboundFromMessage(msg))
}

func inboundFromMessage(msg *jsonrpc.AnyMessage) *InboundMessage {
	in := &InboundMessage{
		Method: msg.Method,
		Params: msg.Params,
		Result: msg.Result,
	}
	if !msg.ID.IsNil() {
		in.ID = msg.ID.String()
	}
	if msg.Error != nil {
		in.Err = &RPCError{Code: int(msg.Error.Code), Message: msg.Error.Message, Data: msg.Error.Data}
	}
	return in
}

// claimFault atomically moves Active to Degraded. Exactly one caller wins;
// concurrent send and receive faults collapse into one recovery pass.
func (m *Manager) claimFault() bool {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return false
	}
	m.state = StateDegraded
	m.stateCond.Broadcast()
	cb := m.onState
	m.mu.Unlock()

	m.log.Info("conn.state",
		slog.String("conn_id", m.id),
		slog.String("transport", string(m.t.Kind())),
		slog.String("from", StateActive.String()),
		slog.String("to", StateDegraded.String()),
	)
	if cb != nil {
		cb(StateDegraded)
	}
	return true
}

// awaitFaultOutcome blocks while a fault claimed by another path is being
// confirmed, reporting whether the connection returned to Active.
func (m *Manager) awaitFaultOutcome() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state == StateDegraded {
		m.stateCond.Wait()
	}
	return m.state == StateActive
}

// handleFault runs the Degraded confirmation phase and, if the transport
// does not recover, the reconnect control loop. fromReader reports whether
// the caller is the reading goroutine; on recovery the reader resumes its
// loop, and a reader parked on the same fault is released by the state
// broadcast. The return value tells the reader whether to keep reading.
func (m *Manager) handleFault(ctx context.Context, cause error, fromReader bool) bool {
	if !m.claimFault() {
		// Another path owns fault handling already.
		return false
	}
	m.log.Warn("conn.fault",
		slog.String("conn_id", m.id),
		slog.String("transport", string(m.t.Kind())),
		slog.String("err", cause.Error()),
	)

	// A stall means the heartbeat deadline already elapsed; the liveness
	// question is answered, so the confirmation phase is skipped.
	prober, probeable := m.t.(transport.Prober)
	if errors.Is(cause, transport.ErrStalled) {
		probeable = false
	}
	if probeable {
		for i := 0; i < m.policy.ProbeBudget; i++ {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(m.policy.ProbeDelay):
			}
			if err := prober.Probe(ctx); err != nil {
				m.log.Debug("conn.probe.fail",
					slog.String("conn_id", m.id),
					slog.Int("probe", i+1),
					slog.String("err", err.Error()),
				)
				continue
			}
			if m.setState(StateActive) {
				m.log.Info("conn.degraded.recover", slog.String("conn_id", m.id))
				return fromReader
			}
			return false
		}
	}

	m.reconnect(ctx)
	return false
}

// reconnect fails everything pending (request semantics may not be
// idempotent, so nothing is silently retried), closes the dead transport,
// and re-opens under the backoff schedule. On success a fresh reading
// goroutine is started and the attempt counter is implicitly back at zero
// for the next outage.
func (m *Manager) reconnect(ctx context.Context) {
	if !m.setState(StateReconnecting) {
		return
	}
	m.calls.failAll(ErrConnectionReset)
	_ = m.t.Close()

	for attempt := 0; attempt < m.policy.MaxAttempts; attempt++ {
		delay := m.delays.Delay(attempt)
		m.log.Info("reconnect.attempt",
			slog.String("conn_id", m.id),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := m.t.Open(ctx); err != nil {
			m.log.Warn("reconnect.fail",
				slog.String("conn_id", m.id),
				slog.Int("attempt", attempt+1),
				slog.String("err", err.Error()),
			)
			continue
		}
		if !m.setState(StateActive) {
			_ = m.t.Close()
			return
		}
		m.log.Info("reconnect.ok", slog.String("conn_id", m.id), slog.Int("attempts", attempt+1))
		go m.readLoop()
		return
	}

	m.failTerminally(ErrReconnectExhausted)
}

// failTerminally moves the connection to Failed and releases everything
// waiting on it.
func (m *Manager) failTerminally(err error) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if !m.setState(StateFailed) {
		return
	}
	m.mu.Lock()
	m.termErr = err
	cancel := m.runTomb
	m.mu.Unlock()

	m.calls.failAll(err)
	_ = m.t.Close()
	if cancel != nil {
		cancel()
	}
	m.log.Error("conn.failed", slog.String("conn_id", m.id), slog.String("err", err.Error()))
}

// callGate checks whether a new call may be submitted in the current state
// and returns the error to fail it with otherwise.
func (m *Manager) callGate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateActive, StateDegraded:
		return nil
	case StateClosed:
		return ErrConnectionClosed
	case StateFailed:
		if m.termErr != nil {
			return m.termErr
		}
		return ErrReconnectExhausted
	default:
		return ErrNotReady
	}
}

// Call sends a request and blocks until the matching response arrives, the
// timeout elapses, the context is canceled, or the connection fails. A
// non-positive timeout uses the manager's default. The result payload is
// returned raw; a peer-reported error completes the call with *RPCError.
func (m *Manager) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if err := m.callGate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = m.callTimeout
	}

	id := jsonrpc.NewRequestID(m.nextID.Add(1))
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	frame, err := jsonrpc.Encode(jsonrpc.AnyFromRequest(req))
	if err != nil {
		return nil, err
	}

	pc, err := m.calls.register(key, time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}

	lctx := logctx.WithRPCMessage(m.connCtx(ctx), &logctx.RPCMessage{Method: method, ID: key, Type: "request"})
	if err := m.send(ctx, frame); err != nil {
		m.calls.remove(key)
		m.log.WarnContext(lctx, "rpc.send.fail", slog.String("err", err.Error()))
		go m.handleFault(m.runCtx, err, false)
		return nil, err
	}
	m.log.DebugContext(lctx, "rpc.call.sent")

	select {
	case resp := <-pc.respCh:
		if resp.Error != nil {
			return nil, &RPCError{Code: int(resp.Error.Code), Message: resp.Error.Message, Data: resp.Error.Data}
		}
		return resp.Result, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		// Local-only cancellation: the entry goes away and the caller is
		// released, but no cancellation notice crosses the wire.
		m.calls.remove(key)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget notification: no correlation entry, no
// reply expected.
func (m *Manager) Notify(ctx context.Context, method string, params any) error {
	if err := m.callGate(); err != nil {
		return err
	}

	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	frame, err := jsonrpc.Encode(jsonrpc.AnyFromRequest(note))
	if err != nil {
		return err
	}

	if err := m.send(ctx, frame); err != nil {
		go m.handleFault(m.runCtx, err, false)
		return err
	}
	return nil
}

// send serializes frame writes: at most one in-flight transport send at a
// time, so concurrent callers never interleave partial frames.
func (m *Manager) send(ctx context.Context, frame []byte) error {
	m.sendGate.Lock()
	defer m.sendGate.Unlock()
	return m.t.Send(ctx, frame)
}

// sweepLoop fails calls whose deadlines elapsed, independent of connection
// state: a stuck transport must not hold callers past their deadlines.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case now := <-ticker.C:
			if n := m.calls.expire(now, ErrCallTimeout); n > 0 {
				m.log.Debug("rpc.sweep.expired", slog.String("conn_id", m.id), slog.Int("count", n))
			}
		}
	}
}

// Shutdown closes the connection: pending calls fail with
// ErrConnectionClosed, the transport is closed, and the state machine
// reaches its Closed terminal. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	alreadyFailed := m.state == StateFailed
	m.mu.Unlock()

	if alreadyFailed {
		// Terminal already; resources were released by failTerminally.
		return nil
	}

	if !m.setState(StateClosed) {
		return nil
	}
	m.mu.Lock()
	m.termErr = ErrConnectionClosed
	cancel := m.runTomb
	m.mu.Unlock()

	m.calls.failAll(ErrConnectionClosed)
	if cancel != nil {
		cancel()
	}
	err := m.t.Close()

	m.log.Info("conn.close.ok", slog.String("conn_id", m.id))
	return err
}

// PendingCalls reports the number of in-flight requests. Exposed as a health
// signal for the owning layer.
func (m *Manager) PendingCalls() int {
	return m.calls.size()
}
